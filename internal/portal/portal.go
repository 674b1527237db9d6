// Package portal asks xdg-desktop-portal which kinds of screen cast sources
// the running desktop can offer.
package portal

import (
	"context"

	"go2tv.app/gifcast/capture"
	"go2tv.app/gifcast/internal/apis"
)

const screenCastInterface = apis.PortalBaseName + ".ScreenCast"

const (
	SourceTypeMonitor uint32 = 1
	SourceTypeWindow  uint32 = 2
	SourceTypeVirtual uint32 = 4
)

// Availability is what the ScreenCast portal reports.
type Availability struct {
	Version     uint32
	SourceTypes uint32
}

// Query reads the ScreenCast version and AvailableSourceTypes properties.
func Query(ctx context.Context, bus apis.Bus) (Availability, error) {
	version, err := apis.Uint32Property(ctx, bus, apis.PortalName, apis.PortalPath, screenCastInterface, "version")
	if err != nil {
		return Availability{}, err
	}
	types, err := apis.Uint32Property(ctx, bus, apis.PortalName, apis.PortalPath, screenCastInterface, "AvailableSourceTypes")
	if err != nil {
		return Availability{}, err
	}
	return Availability{Version: version, SourceTypes: types}, nil
}

// Kinds maps the portal bitmask to capture kinds. Virtual monitors count
// as screens.
func (a Availability) Kinds() []capture.Kind {
	var kinds []capture.Kind
	if a.SourceTypes&(SourceTypeMonitor|SourceTypeVirtual) != 0 {
		kinds = append(kinds, capture.KindScreen)
	}
	if a.SourceTypes&SourceTypeWindow != 0 {
		kinds = append(kinds, capture.KindWindow)
	}
	return kinds
}
