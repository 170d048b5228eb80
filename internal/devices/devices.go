// Package devices wires every protocol handler into a session registry.
package devices

import (
	"github.com/srg/medlink/internal/devices/bpm"
	"github.com/srg/medlink/internal/devices/scale"
	"github.com/srg/medlink/internal/session"
)

// RegisterAll registers every supported device type with r.
func RegisterAll(r *session.Registry) {
	r.Register(bpm.DeviceType, bpm.New)
	r.Register(scale.DeviceType, scale.New)
}

// NewRegistry returns a registry populated by RegisterAll.
func NewRegistry() *session.Registry {
	r := session.NewRegistry()
	RegisterAll(r)
	return r
}
