// Package physics provides the plant models driven by the controllers.
//
// Each model implements [dynamo.System] and [dynamo.Linearizer]:
//
//   - [SpringMass]: linear mass-spring-damper (single mass or chain)
//   - [Vessel]: 3-DOF surface vessel with yaw-dependent kinematics
//
// Both also implement [dynamo.Hamiltonian]. For the vessel this is the
// kinetic energy only.
//
//	plant := physics.NewVessel()
//	a, b := plant.Linearize(x, u, 0)
package physics
