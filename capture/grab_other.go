//go:build !linux && !darwin && !windows

package capture

import "context"

func (p *FFmpegProvider) platformSources(context.Context) ([]Source, error) {
	return nil, ErrNotImplemented
}

func (p *FFmpegProvider) platformInputArgs(Kind, string) ([]string, error) {
	return nil, ErrNotImplemented
}
