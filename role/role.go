// Package role defines the closed set of console roles and the static table
// of console sections each role may see.
package role

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
)

// Role is a console role as assigned by the upstream backend.
type Role string

const (
	Admin           Role = "ADMIN"
	Supervisor      Role = "SUPERVISOR"
	Mecanico        Role = "MECANICO"
	Guardia         Role = "GUARDIA"
	Recepcionista   Role = "RECEPCIONISTA"
	JefeTaller      Role = "JEFE_TALLER"
	Ejecutivo       Role = "EJECUTIVO"
	Sponsor         Role = "SPONSOR"
	CoordinadorZona Role = "COORDINADOR_ZONA"
	Chofer          Role = "CHOFER"
)

// All lists every role in display order.
var All = []Role{
	Admin, Supervisor, Mecanico, Guardia, Recepcionista,
	JefeTaller, Ejecutivo, Sponsor, CoordinadorZona, Chofer,
}

// Section names used by the console navigation.
const (
	SectionDashboard     = "dashboard"
	SectionVehicles      = "vehiculos"
	SectionWorkOrders    = "ordenes"
	SectionDrivers       = "choferes"
	SectionSchedule      = "agenda"
	SectionWorkshop      = "taller"
	SectionInventory     = "inventario"
	SectionGate          = "porteria"
	SectionReception     = "recepcion"
	SectionReports       = "reportes"
	SectionUsers         = "usuarios"
	SectionNotifications = "notificaciones"
)

var sections = map[Role][]string{
	Admin: {
		SectionDashboard, SectionVehicles, SectionWorkOrders, SectionDrivers,
		SectionSchedule, SectionWorkshop, SectionInventory, SectionGate,
		SectionReception, SectionReports, SectionUsers, SectionNotifications,
	},
	Supervisor: {
		SectionDashboard, SectionVehicles, SectionWorkOrders, SectionDrivers,
		SectionSchedule, SectionWorkshop, SectionReports, SectionNotifications,
	},
	JefeTaller: {
		SectionDashboard, SectionVehicles, SectionWorkOrders, SectionSchedule,
		SectionWorkshop, SectionInventory, SectionReports, SectionNotifications,
	},
	Mecanico: {
		SectionDashboard, SectionWorkOrders, SectionWorkshop, SectionNotifications,
	},
	Guardia: {
		SectionDashboard, SectionGate, SectionVehicles, SectionNotifications,
	},
	Recepcionista: {
		SectionDashboard, SectionReception, SectionVehicles, SectionSchedule,
		SectionWorkOrders, SectionNotifications,
	},
	Ejecutivo: {
		SectionDashboard, SectionReports, SectionVehicles, SectionNotifications,
	},
	Sponsor: {
		SectionDashboard, SectionReports,
	},
	CoordinadorZona: {
		SectionDashboard, SectionVehicles, SectionDrivers, SectionSchedule,
		SectionReports, SectionNotifications,
	},
	Chofer: {
		SectionDashboard, SectionSchedule, SectionNotifications,
	},
}

// Parse maps a role name to a Role. Matching ignores case and surrounding
// whitespace; unknown names are an error.
func Parse(s string) (Role, error) {
	r := Role(strings.ToUpper(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return r, nil
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	_, ok := sections[r]
	return ok
}

func (r Role) String() string { return string(r) }

// Sections returns a copy of the sections visible to r, nil for unknown roles.
func (r Role) Sections() []string {
	return slices.Clone(sections[r])
}

// Allows reports whether r may see section.
func (r Role) Allows(section string) bool {
	return slices.Contains(sections[r], section)
}

// In reports whether r is a member of set.
func (r Role) In(set ...Role) bool {
	return slices.Contains(set, r)
}

// UnmarshalJSON accepts any casing; unknown values decode to the empty role
// so a profile with a role this build does not know is still readable.
func (r *Role) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := Parse(s)
	if err != nil {
		*r = ""
		return nil
	}
	*r = parsed
	return nil
}
