package objectstore_test

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/burnet/burnet/pkg/objectstore"
)

// ExampleOpen demonstrates opening a store and writing a record in a session.
func ExampleOpen() {
	dir, err := os.MkdirTemp("", "objectstore-example")
	if err != nil {
		log.Fatal(err)
	}
	defer os.RemoveAll(dir)

	ctx := context.Background()
	store, err := objectstore.Open(ctx, objectstore.Config{
		Path:     filepath.Join(dir, "objects.db"),
		PoolSize: 4,
	})
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	err = store.Update(ctx, func(s *objectstore.Session) error {
		return s.Store(ctx, "templates", "fedora", map[string]any{"memory": 1024})
	})
	if err != nil {
		log.Fatal(err)
	}

	err = store.View(ctx, func(s *objectstore.Session) error {
		v, err := s.Get(ctx, "templates", "fedora")
		if err != nil {
			return err
		}
		fmt.Println("memory:", v["memory"])
		return nil
	})
	if err != nil {
		log.Fatal(err)
	}
	// Output: memory: 1024
}

// ExampleSession_GetList demonstrates listing the idents of a record type.
func ExampleSession_GetList() {
	dir, _ := os.MkdirTemp("", "objectstore-example")
	defer os.RemoveAll(dir)

	ctx := context.Background()
	store, _ := objectstore.Open(ctx, objectstore.Config{Path: filepath.Join(dir, "objects.db")})
	defer store.Close()

	sess, _ := store.Begin(ctx)
	defer sess.Close()

	for _, name := range []string{"ubuntu", "fedora", "debian"} {
		_ = sess.Store(ctx, "templates", name, map[string]any{"name": name})
	}

	idents, _ := sess.GetList(ctx, "templates")
	fmt.Println(idents)

	_ = sess.Commit()
	// Output: [debian fedora ubuntu]
}
