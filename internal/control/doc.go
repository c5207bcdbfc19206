// Package control provides the non-optimizing policies that share the
// [nlp.Solver] interface with the MPC solver, so the receding-horizon loop
// can run them interchangeably:
//
//   - [LQR]: finite-horizon linear-quadratic regulator from a Riccati
//     recursion on the linearized plant, saturated at the bounds
//   - [Constant]: open-loop constant input
//
// # Usage
//
//	spec, _ := ocp.Build(plant, integ, 20, 1, cost, bounds)
//	lqr, _ := control.NewLQR(spec)
//	loop := sim.NewLoop(plant, integ, lqr, spec.Dt())
package control
