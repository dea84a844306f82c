package session

import "codeberg.org/mutker/pulsectl/internal/acquisition"

// candidates returns the backends one Connect call tries, in order: the
// configured backend, then the synthetic board, then the mock. Fallbacks are
// only included when allowed and never repeat an earlier entry.
func candidates(cfg Config) []acquisition.Config {
	primary := cfg.Backend
	chain := []acquisition.Config{primary}
	if !cfg.AllowFallback {
		return chain
	}

	synthetic := primary
	synthetic.Kind = acquisition.KindBoard
	synthetic.BoardDriver = acquisition.SyntheticDriver

	mock := primary
	mock.Kind = acquisition.KindMock

	for _, c := range []acquisition.Config{synthetic, mock} {
		dup := false
		for _, have := range chain {
			if sameBackend(have, c) {
				dup = true
				break
			}
		}
		if !dup {
			chain = append(chain, c)
		}
	}
	return chain
}

func sameBackend(a, b acquisition.Config) bool {
	if a.Kind != b.Kind {
		return false
	}
	if a.Kind == acquisition.KindBoard {
		return boardDriver(a) == boardDriver(b)
	}
	return true
}

func boardDriver(c acquisition.Config) string {
	if c.BoardDriver == "" {
		return acquisition.SyntheticDriver
	}
	return c.BoardDriver
}

func describe(c acquisition.Config) string {
	if c.Kind == acquisition.KindBoard {
		return string(c.Kind) + ":" + boardDriver(c)
	}
	return string(c.Kind)
}
