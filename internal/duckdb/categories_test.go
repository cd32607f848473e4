package duckdb

import (
	"errors"
	"testing"

	"github.com/fleetwatch/fleetwatch/internal/model"
)

func TestAddCategoryDuplicate(t *testing.T) {
	store := newTestStore(t)

	if _, err := store.AddCategory("Routers"); err != nil {
		t.Fatalf("AddCategory: %v", err)
	}
	if _, err := store.AddCategory("Routers"); !errors.Is(err, model.ErrConflict) {
		t.Errorf("duplicate AddCategory = %v, want ErrConflict", err)
	}
}

func TestAddCategoryRejectsEmptyName(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.AddCategory(" "); !errors.Is(err, model.ErrInvalidInput) {
		t.Errorf("AddCategory(\" \") = %v, want ErrInvalidInput", err)
	}
}

func TestEnsureCategoryIdempotent(t *testing.T) {
	store := newTestStore(t)

	first, err := store.EnsureCategory("New")
	if err != nil {
		t.Fatalf("EnsureCategory: %v", err)
	}
	second, err := store.EnsureCategory("New")
	if err != nil {
		t.Fatalf("second EnsureCategory: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("EnsureCategory created a second category: %s != %s", second.ID, first.ID)
	}
}

func TestCategoryLookups(t *testing.T) {
	store := newTestStore(t)
	cat := mustCategory(t, store, "Switches")

	byID, err := store.CategoryByID(cat.ID)
	if err != nil || byID.Name != "Switches" {
		t.Errorf("CategoryByID = %+v, %v", byID, err)
	}
	byName, err := store.CategoryByName("Switches")
	if err != nil || byName.ID != cat.ID {
		t.Errorf("CategoryByName = %+v, %v", byName, err)
	}
	if _, err := store.CategoryByName("ghost"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("CategoryByName(ghost) = %v, want ErrNotFound", err)
	}
}

func TestDeleteCategoryReferencedIsRejected(t *testing.T) {
	store := newTestStore(t)
	cat := mustCategory(t, store, "Routers")
	mustDevice(t, store, "rtr-1", cat.ID)

	if err := store.DeleteCategory(cat.ID); !errors.Is(err, model.ErrConflict) {
		t.Errorf("DeleteCategory(referenced) = %v, want ErrConflict", err)
	}

	// Still present.
	if _, err := store.CategoryByID(cat.ID); err != nil {
		t.Errorf("category disappeared after rejected delete: %v", err)
	}
}

func TestDeleteCategoryUnreferenced(t *testing.T) {
	store := newTestStore(t)
	cat := mustCategory(t, store, "Empty")

	if err := store.DeleteCategory(cat.ID); err != nil {
		t.Fatalf("DeleteCategory: %v", err)
	}
	if _, err := store.CategoryByID(cat.ID); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("deleted category still resolvable: %v", err)
	}
}

func TestDeleteCategoryUnknown(t *testing.T) {
	store := newTestStore(t)
	if err := store.DeleteCategory("ghost"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("DeleteCategory(unknown) = %v, want ErrNotFound", err)
	}
}

func TestListCategoriesSorted(t *testing.T) {
	store := newTestStore(t)
	mustCategory(t, store, "Switches")
	mustCategory(t, store, "Access Points")
	mustCategory(t, store, "Routers")

	cats, err := store.ListCategories()
	if err != nil {
		t.Fatalf("ListCategories: %v", err)
	}
	if len(cats) != 3 {
		t.Fatalf("categories = %d, want 3", len(cats))
	}
	want := []string{"Access Points", "Routers", "Switches"}
	for i, name := range want {
		if cats[i].Name != name {
			t.Errorf("cats[%d] = %q, want %q", i, cats[i].Name, name)
		}
	}
}
