package allocation

import (
	"math"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/san-kum/mpcsim/internal/dynamo"
	"github.com/san-kum/mpcsim/internal/qp"
	"gonum.org/v1/gonum/mat"
)

var _ = Describe("Geometry", func() {
	It("builds the cartesian configuration matrix", func() {
		b := DefaultGeometry().Matrix()
		want := mat.NewDense(3, 8, []float64{
			1, 0, 1, 0, 1, 0, 1, 0,
			0, 1, 0, 1, 0, 1, 0, 1,
			1, -1, -1, -1, 1, 1, -1, 1,
		})
		Expect(mat.Equal(b, want)).To(BeTrue())
	})
})

var _ = Describe("Allocator", func() {
	var geometry Geometry

	BeforeEach(func() {
		geometry = DefaultGeometry()
	})

	Context("in soft mode", func() {
		var alloc *Allocator

		BeforeEach(func() {
			var err error
			alloc, err = NewFromGeometry(geometry, DefaultOptions())
			Expect(err).NotTo(HaveOccurred())
		})

		It("meets a pure yaw moment with negligible slack", func() {
			res, err := alloc.Allocate([]float64{0, 0, 40})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Status).To(Equal(StatusOptimal))

			for i, v := range res.Achieved {
				Expect(v).To(BeNumerically("~", []float64{0, 0, 40}[i], 1e-3))
			}
			for _, s := range res.S {
				Expect(math.Abs(s)).To(BeNumerically("<", 1e-3))
			}

			// BBᵀ = diag(4, 4, 8), so u = Bᵀ·[0, 0, 40/(8 + 1/w_s)].
			scale := 40 / (8 + 1/DefaultWeightSlack)
			row := []float64{1, -1, -1, -1, 1, 1, -1, 1}
			for i, v := range res.U {
				Expect(v).To(BeNumerically("~", scale*row[i], 1e-9))
			}
			Expect(res.Saturated).To(BeFalse())
		})

		It("reports per-thruster polar forces", func() {
			res, err := alloc.Allocate([]float64{0, 0, 40})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Thrusters).To(HaveLen(4))
			for _, th := range res.Thrusters {
				Expect(th.Magnitude).To(BeNumerically("~", math.Hypot(th.Fx, th.Fy), 1e-12))
				Expect(th.Magnitude).To(BeNumerically("~", 40/(8+1e-4)*math.Sqrt2, 1e-9))
			}
			Expect(res.Thrusters[0].Azimuth).To(BeNumerically("~", -math.Pi/4, 1e-12))
		})

		It("flags a request beyond u_max without enforcing it", func() {
			res, err := alloc.Allocate([]float64{0, 0, 500})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Saturated).To(BeTrue())
			Expect(math.Abs(res.U[0])).To(BeNumerically(">", DefaultUMax))
		})

		It("splits a surge force evenly", func() {
			res, err := alloc.Allocate([]float64{100, 0, 0})
			Expect(err).NotTo(HaveOccurred())
			for i := 0; i < 4; i++ {
				Expect(res.U[2*i]).To(BeNumerically("~", 25, 1e-2))
				Expect(res.U[2*i+1]).To(BeNumerically("~", 0, 1e-9))
			}
		})

		It("rejects a malformed request", func() {
			_, err := alloc.Allocate([]float64{1, 2})
			Expect(err).To(MatchError(dynamo.ErrDimensionMismatch))
			_, err = alloc.Allocate([]float64{math.NaN(), 0, 0})
			Expect(err).To(MatchError(dynamo.ErrInvalidState))
		})
	})

	Context("in hard mode", func() {
		var soft, hard *Allocator

		BeforeEach(func() {
			var err error
			soft, err = NewFromGeometry(geometry, DefaultOptions())
			Expect(err).NotTo(HaveOccurred())
			opts := DefaultOptions()
			opts.Mode = ModeHard
			hard, err = NewFromGeometry(geometry, opts)
			Expect(err).NotTo(HaveOccurred())
		})

		It("agrees with soft mode when no bound is active", func() {
			for _, td := range [][]float64{{0, 0, 40}, {30, -20, 5}, {-10, 10, -10}} {
				rs, err := soft.Allocate(td)
				Expect(err).NotTo(HaveOccurred())
				rh, err := hard.Allocate(td)
				Expect(err).NotTo(HaveOccurred())
				for i := range rs.U {
					Expect(rh.U[i]).To(BeNumerically("~", rs.U[i], 1e-6))
				}
				for i := range rs.S {
					Expect(rh.S[i]).To(BeNumerically("~", rs.S[i], 1e-6))
				}
			}
		})

		It("clamps every thruster at u_max and leaves the rest in the slack", func() {
			res, err := hard.Allocate([]float64{0, 0, 500})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Saturated).To(BeTrue())
			for _, v := range res.U {
				Expect(math.Abs(v)).To(BeNumerically("~", DefaultUMax, 1e-9))
			}
			Expect(res.Achieved[2]).To(BeNumerically("~", 400, 1e-6))
			Expect(res.S[2]).To(BeNumerically("~", 100, 1e-6))
		})

		It("gives the same answer with the projected-gradient backend", func() {
			opts := DefaultOptions()
			opts.Mode = ModeHard
			opts.QP = qp.NewProjectedGradient()
			pg, err := NewFromGeometry(geometry, opts)
			Expect(err).NotTo(HaveOccurred())

			want, err := hard.Allocate([]float64{0, 0, 500})
			Expect(err).NotTo(HaveOccurred())
			got, err := pg.Allocate([]float64{0, 0, 500})
			Expect(err).NotTo(HaveOccurred())
			for i := range want.U {
				Expect(got.U[i]).To(BeNumerically("~", want.U[i], 1e-6))
			}
		})
	})

	It("leaves the thruster view empty for a matrix with an odd column count", func() {
		b := mat.NewDense(3, 3, []float64{1, 0, 0, 0, 1, 0, 0, 0, 1})
		alloc, err := New(b, DefaultOptions())
		Expect(err).NotTo(HaveOccurred())

		res, err := alloc.Allocate([]float64{1, 2, 3})
		Expect(err).NotTo(HaveOccurred())
		Expect(res.U).To(HaveLen(3))
		Expect(res.Thrusters).To(BeNil())
	})

	DescribeTable("rejects malformed formulations",
		func(b *mat.Dense, mutate func(*Options)) {
			opts := DefaultOptions()
			mutate(&opts)
			_, err := New(b, opts)
			Expect(err).To(MatchError(dynamo.ErrMalformedFormulation))
		},
		Entry("two rows", mat.NewDense(2, 2, []float64{1, 0, 0, 1}), func(*Options) {}),
		Entry("rank deficient", mat.NewDense(3, 3, []float64{1, 0, 0, 1, 0, 0, 0, 0, 1}), func(*Options) {}),
		Entry("zero control weight", DefaultGeometry().Matrix(), func(o *Options) { o.WeightU = 0 }),
		Entry("slack weight below control weight", DefaultGeometry().Matrix(), func(o *Options) { o.WeightSlack = 0.5 }),
		Entry("unknown mode", DefaultGeometry().Matrix(), func(o *Options) { o.Mode = "exact" }),
		Entry("hard mode without bound", DefaultGeometry().Matrix(), func(o *Options) {
			o.Mode = ModeHard
			o.UMax = 0
		}),
	)
})
