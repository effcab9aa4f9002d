package perms

import (
	"errors"
	"testing"
)

func TestIsValid(t *testing.T) {
	if !IsValid(ManageAppointments) {
		t.Fatalf("expected %s to be valid", ManageAppointments)
	}
	if !IsValid(All) {
		t.Fatalf("expected wildcard to be valid")
	}
	if IsValid("manage_rockets") {
		t.Fatalf("expected unknown permission to be invalid")
	}
	if IsValid("") {
		t.Fatalf("expected empty string to be invalid")
	}
}

func TestFilterValidPartitions(t *testing.T) {
	valid, rejected := FilterValid([]string{ViewInventory, "bogus", ManagePets, "worse", ViewInventory})
	if len(valid) != 2 || valid[0] != ViewInventory || valid[1] != ManagePets {
		t.Fatalf("unexpected valid subset: %v", valid)
	}
	if len(rejected) != 2 || rejected[0] != "bogus" || rejected[1] != "worse" {
		t.Fatalf("unexpected rejected subset: %v", rejected)
	}
}

func TestFilterValidSkipsBlanks(t *testing.T) {
	valid, rejected := FilterValid([]string{"", "  ", ViewPets}) //nolint:gocritic
	if len(valid) != 1 || valid[0] != ViewPets {
		t.Fatalf("unexpected valid subset: %v", valid)
	}
	if len(rejected) != 0 {
		t.Fatalf("blanks must not be reported as rejects: %v", rejected)
	}
}

func TestValidateRejectsUnknown(t *testing.T) {
	_, err := Validate([]string{ManageInventory, "fly_helicopter"})
	var invalid *InvalidPermissionError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidPermissionError, got %v", err)
	}
	if len(invalid.Rejected) != 1 || invalid.Rejected[0] != "fly_helicopter" {
		t.Fatalf("unexpected rejects: %v", invalid.Rejected)
	}
}

func TestListIsSortedAndComplete(t *testing.T) {
	entries := List()
	if len(entries) != len(descriptions) {
		t.Fatalf("expected %d entries, got %d", len(descriptions), len(entries))
	}
	for i := 1; i < len(entries); i++ {
		if entries[i-1].Name >= entries[i].Name {
			t.Fatalf("entries not sorted at %d: %s >= %s", i, entries[i-1].Name, entries[i].Name)
		}
	}
	for _, e := range entries {
		if e.Description == "" {
			t.Fatalf("permission %s has no description", e.Name)
		}
	}
}
