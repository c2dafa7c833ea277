// Package backend implements the read-only domain services the gateway
// forwards to. Each service answers a liveness probe and serves one fixed,
// ordered collection.
package backend

import (
	"fmt"
	"sort"
)

// User is a record served by the user service.
type User struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// Order is a record served by the order service.
type Order struct {
	ID   int    `json:"id"`
	Item string `json:"item"`
	Qty  int    `json:"qty"`
}

// Service describes one backend: its name, the path of its collection and the
// records served there.
type Service struct {
	Name string
	Path string
	// Records returns a fresh copy of the collection on every call.
	Records func() any
}

// Users returns the fixed user collection.
func Users() []User {
	return []User{
		{ID: 1, Name: "Sanyog"},
		{ID: 2, Name: "John"},
	}
}

// Orders returns the fixed order collection.
func Orders() []Order {
	return []Order{
		{ID: 100, Item: "Laptop", Qty: 1},
		{ID: 101, Item: "Mouse", Qty: 2},
	}
}

var services = map[string]Service{
	"user":  {Name: "user", Path: "/users", Records: func() any { return Users() }},
	"order": {Name: "order", Path: "/orders", Records: func() any { return Orders() }},
}

// Lookup returns the named service definition.
func Lookup(name string) (Service, error) {
	svc, ok := services[name]
	if !ok {
		return Service{}, fmt.Errorf("unknown backend service %q (known: %v)", name, Names())
	}
	return svc, nil
}

// Names lists the known services in sorted order.
func Names() []string {
	names := make([]string, 0, len(services))
	for n := range services {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
