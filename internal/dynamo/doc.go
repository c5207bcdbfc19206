// Package dynamo provides the core primitives shared by the plants, the
// integrators, the optimal-control layer and the receding-horizon loop.
//
// The package defines:
//
//   - [State] and [Control]: plain vectors holding plant state and actuator commands
//   - [System]: continuous-time plant dynamics dX/dt = f(X, u, t)
//   - [Linearizer]: optional analytic Jacobians of a [System]
//   - [Integrator] and [SensitivityIntegrator]: one-sample propagation of a plant
//   - the error taxonomy shared by every layer (see errors.go)
//
// # Example
//
//	plant := physics.NewSpringMass()
//	integ := integrators.NewRK4()
//	x1, err := integ.Step(plant, dynamo.State{1, 0}, dynamo.Control{0}, 0, 0.05)
//
// # Thread Safety
//
// Everything in this package is a value type or a pure interface. Plants and
// integrators in this module hold no per-call state and may be shared.
package dynamo
