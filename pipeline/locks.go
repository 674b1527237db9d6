package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
)

// pathLocks keeps two jobs from writing the same output file at once.
type pathLocks struct {
	mu   sync.Mutex
	held map[string]chan struct{}
}

func newPathLocks() *pathLocks {
	return &pathLocks{held: make(map[string]chan struct{})}
}

// acquire claims every path or none. With wait it blocks until the paths are
// free or ctx is done; otherwise a busy path fails with ErrPathBusy.
func (l *pathLocks) acquire(ctx context.Context, wait bool, paths ...string) (func(), error) {
	keys := make([]string, 0, len(paths))
	for _, p := range paths {
		if abs, err := filepath.Abs(p); err == nil {
			p = abs
		}
		keys = append(keys, filepath.Clean(p))
	}

	for {
		l.mu.Lock()
		var busy chan struct{}
		var busyPath string
		for _, k := range keys {
			if ch, ok := l.held[k]; ok {
				busy, busyPath = ch, k
				break
			}
		}
		if busy == nil {
			release := make(chan struct{})
			for _, k := range keys {
				l.held[k] = release
			}
			l.mu.Unlock()
			var once sync.Once
			return func() {
				once.Do(func() {
					l.mu.Lock()
					for _, k := range keys {
						if l.held[k] == release {
							delete(l.held, k)
						}
					}
					l.mu.Unlock()
					close(release)
				})
			}, nil
		}
		l.mu.Unlock()

		if !wait {
			return nil, fmt.Errorf("%w: %s", ErrPathBusy, busyPath)
		}
		select {
		case <-busy:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
