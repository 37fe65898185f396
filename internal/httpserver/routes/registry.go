package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/licensed/internal/httpserver/deps"
)

// Registrar mounts one group of endpoints.
type Registrar func(r chi.Router, d deps.Deps)

type group struct {
	name string
	reg  Registrar
}

var groups []group

// Register adds a named group. Called from init() in this package.
func Register(name string, reg Registrar) {
	for _, g := range groups {
		if g.name == name {
			panic("routes: group registered twice: " + name)
		}
	}
	groups = append(groups, group{name: name, reg: reg})
}

// RegisterAll mounts every group on r and returns their names in mount order.
func RegisterAll(r chi.Router, d deps.Deps) []string {
	names := make([]string, 0, len(groups))
	for _, g := range groups {
		g.reg(r, d)
		names = append(names, g.name)
	}
	return names
}
