// Package perms defines the closed catalog of permission identifiers.
//
// Every permission string stored anywhere in the system must come from this
// catalog. Callers validate arbitrary input with FilterValid before handing a
// permission list to any store; unknown identifiers are rejected, never
// silently dropped.
package perms

import (
	"fmt"
	"sort"
	"strings"
)

// CatalogVersion identifies the current revision of the permission set.
// Bump it whenever a permission is added or retired.
const CatalogVersion = 3

// Wildcard grants every permission. Reserved for the admin role.
const All = "all"

// Catalog permission identifiers.
const (
	ManageAppointments = "manage_appointments"
	ViewAppointments   = "view_appointments"
	ManageCustomers    = "manage_customers"
	ViewCustomers      = "view_customers"
	ManagePets         = "manage_pets"
	ViewPets           = "view_pets"
	ManageInventory    = "manage_inventory"
	ViewInventory      = "view_inventory"
	ManageStaff        = "manage_staff"
	ManageRoles        = "manage_roles"
	ViewReports        = "view_reports"
	ManageSettings     = "manage_settings"
)

var descriptions = map[string]string{
	All:                "full access to every operation",
	ManageAppointments: "create, move and cancel appointments",
	ViewAppointments:   "view the appointment calendar",
	ManageCustomers:    "create and edit customer records",
	ViewCustomers:      "view customer records",
	ManagePets:         "create and edit pet records",
	ViewPets:           "view pet records",
	ManageInventory:    "adjust inventory and stock levels",
	ViewInventory:      "view inventory and stock levels",
	ManageStaff:        "manage staff accounts and role assignments",
	ManageRoles:        "create and edit role definitions",
	ViewReports:        "view business reports",
	ManageSettings:     "edit business-wide settings",
}

// Permission describes a single catalog entry for listings.
type Permission struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// InvalidPermissionError reports identifiers that are not part of the catalog.
type InvalidPermissionError struct {
	Rejected []string
}

func (e *InvalidPermissionError) Error() string {
	return fmt.Sprintf("perms: unknown permissions: %s", strings.Join(e.Rejected, ", "))
}

// IsValid reports whether candidate belongs to the current catalog version.
func IsValid(candidate string) bool {
	_, ok := descriptions[candidate]
	return ok
}

// FilterValid partitions candidates into catalog members and rejects.
// Duplicates are collapsed; order follows first appearance.
func FilterValid(candidates []string) (valid, rejected []string) {
	seen := make(map[string]struct{}, len(candidates))
	for _, c := range candidates {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		if IsValid(c) {
			valid = append(valid, c)
		} else {
			rejected = append(rejected, c)
		}
	}
	return valid, rejected
}

// Validate returns an InvalidPermissionError when any candidate falls outside
// the catalog, otherwise the deduplicated valid subset.
func Validate(candidates []string) ([]string, error) {
	valid, rejected := FilterValid(candidates)
	if len(rejected) > 0 {
		return nil, &InvalidPermissionError{Rejected: rejected}
	}
	return valid, nil
}

// List returns every catalog entry ordered by name.
func List() []Permission {
	out := make([]Permission, 0, len(descriptions))
	for name, desc := range descriptions {
		out = append(out, Permission{Name: name, Description: desc})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Names returns every catalog identifier ordered by name.
func Names() []string {
	entries := List()
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name
	}
	return names
}
