package store

import (
	"bytes"
	"context"
	"errors"
	"testing"
)

func openBlobs(t *testing.T, name string) Blob {
	t.Helper()
	switch name {
	case "memory":
		return NewMemory()
	case "sqlite":
		s, err := Open(t.TempDir())
		if err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() { s.Close() })
		return s
	default:
		t.Fatalf("unknown backend %s", name)
		return nil
	}
}

func TestBlobContract(t *testing.T) {
	for _, backend := range []string{"memory", "sqlite"} {
		t.Run(backend, func(t *testing.T) {
			ctx := context.Background()
			b := openBlobs(t, backend)

			t.Run("get missing", func(t *testing.T) {
				if _, err := b.Get(ctx, "rooms/ZZZZZZ/meta/meta.json"); !errors.Is(err, ErrNotFound) {
					t.Fatalf("err = %v, want ErrNotFound", err)
				}
			})

			t.Run("put get", func(t *testing.T) {
				want := []byte(`{"code":"BQKJ3X"}`)
				if err := b.Put(ctx, "rooms/BQKJ3X/meta/meta.json", want); err != nil {
					t.Fatal(err)
				}
				got, err := b.Get(ctx, "rooms/BQKJ3X/meta/meta.json")
				if err != nil {
					t.Fatal(err)
				}
				if !bytes.Equal(got, want) {
					t.Errorf("got %s", got)
				}
			})

			t.Run("overwrite", func(t *testing.T) {
				path := "rooms/BQKJ3X/meta/now.json"
				if err := b.Put(ctx, path, []byte("v1")); err != nil {
					t.Fatal(err)
				}
				if err := b.Put(ctx, path, []byte("v2")); err != nil {
					t.Fatal(err)
				}
				got, err := b.Get(ctx, path)
				if err != nil {
					t.Fatal(err)
				}
				if string(got) != "v2" {
					t.Errorf("got %s, want v2", got)
				}
			})

			t.Run("list prefix", func(t *testing.T) {
				for _, p := range []string{
					"rooms/AAAAAA/meta/meta.json",
					"rooms/AAAAAA/meta/now.json",
					"ended/AAAAAA.json",
				} {
					if err := b.Put(ctx, p, []byte("x")); err != nil {
						t.Fatal(err)
					}
				}
				got, err := b.List(ctx, "rooms/AAAAAA/")
				if err != nil {
					t.Fatal(err)
				}
				if len(got) != 2 {
					t.Fatalf("List = %v", got)
				}
				if got[0] != "rooms/AAAAAA/meta/meta.json" || got[1] != "rooms/AAAAAA/meta/now.json" {
					t.Errorf("List order = %v", got)
				}
			})

			t.Run("delete", func(t *testing.T) {
				path := "rooms/DELETE/meta/meta.json"
				if err := b.Put(ctx, path, []byte("x")); err != nil {
					t.Fatal(err)
				}
				if err := b.Delete(ctx, path); err != nil {
					t.Fatal(err)
				}
				if _, err := b.Get(ctx, path); !errors.Is(err, ErrNotFound) {
					t.Fatalf("after delete err = %v, want ErrNotFound", err)
				}
				// Deleting a missing path is not an error.
				if err := b.Delete(ctx, path); err != nil {
					t.Fatalf("double delete: %v", err)
				}
			})
		})
	}
}

func TestSQLitePersistsAcrossOpen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Put(ctx, "rooms/BQKJ3X/meta/meta.json", []byte("durable")); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	s2, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer s2.Close()
	got, err := s2.Get(ctx, "rooms/BQKJ3X/meta/meta.json")
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "durable" {
		t.Errorf("got %s", got)
	}
}

func TestListEscapesLikeMetacharacters(t *testing.T) {
	ctx := context.Background()
	b := openBlobs(t, "sqlite")

	if err := b.Put(ctx, "odd_prefix/a.json", []byte("x")); err != nil {
		t.Fatal(err)
	}
	if err := b.Put(ctx, "oddXprefix/b.json", []byte("x")); err != nil {
		t.Fatal(err)
	}
	got, err := b.List(ctx, "odd_prefix/")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0] != "odd_prefix/a.json" {
		t.Errorf("underscore matched as wildcard: %v", got)
	}
}
