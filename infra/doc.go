// Package infra contains technical adapters: the HTTP site port, reservation
// sources, profile mirrors, metrics exporters and the development site mock.
// These packages depend only on the interfaces defined in the core packages.
package infra
