// Package view defines the view-state vocabulary shared by map endpoints: geographic
// positions, bounds, the two synchronization payload shapes and their wire codec.
package view
