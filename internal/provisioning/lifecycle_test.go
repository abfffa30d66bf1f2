package provisioning

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/imamik/osbastion/internal/bastion"
	"github.com/imamik/osbastion/internal/cloud/fake"
	"github.com/imamik/osbastion/internal/ledger"
)

var _ = Describe("Bastion lifecycle", func() {
	var (
		ctx        context.Context
		cl         *fake.Cloud
		ledgerPath string
		l          *ledger.Ledger
	)

	newController := func(probers ...Prober) *Controller {
		if len(probers) == 0 {
			probers = []Prober{alwaysReady}
		}
		return New(cl, l, testTimeouts(), WithProbers(probers...))
	}

	BeforeEach(func() {
		ctx = context.Background()
		cl = fake.New()
		cl.EnforceDependencies = true

		ledgerPath = filepath.Join(GinkgoT().TempDir(), "ci-bastion.ledger.json")
		var err error
		l, err = ledger.Open(ctx, ledgerPath)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(func() { _ = l.Close() })
	})

	Context("when every phase succeeds", func() {
		It("reaches Ready and tears down to Destroyed", func() {
			c := newController()

			res, err := c.Provision(ctx, Request{Spec: testSpec(), UserData: "#cloud-config\n"})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.State).To(Equal(bastion.StateReady))
			Expect(res.Address).To(Equal("203.0.113.10"))
			Expect(l.All()).To(HaveLen(len(bastion.Kinds)))

			report, err := c.Teardown(ctx, TeardownOptions{})
			Expect(err).NotTo(HaveOccurred())
			Expect(report.State).To(Equal(bastion.StateDestroyed))
			Expect(report.Leaks).To(BeEmpty())
			Expect(l.All()).To(BeEmpty())
			Expect(cl.Resources()).To(BeEmpty())
		})

		It("tears down from a fresh process that only has the ledger file", func() {
			_, err := newController().Provision(ctx, Request{Spec: testSpec()})
			Expect(err).NotTo(HaveOccurred())
			Expect(l.Close()).To(Succeed())

			l, err = ledger.Open(ctx, ledgerPath)
			Expect(err).NotTo(HaveOccurred())

			c := newController()
			Expect(c.State()).To(Equal(bastion.StateReady))

			report, err := c.Teardown(ctx, TeardownOptions{})
			Expect(err).NotTo(HaveOccurred())
			Expect(report.Deleted).To(HaveLen(len(bastion.Kinds)))
			Expect(cl.Resources()).To(BeEmpty())
		})
	})

	Context("when server creation keeps failing", func() {
		BeforeEach(func() {
			cl.Fail(fake.OpCreate, bastion.KindServer, &bastion.ProviderError{
				Op:         "create",
				Kind:       bastion.KindServer,
				StatusCode: http.StatusServiceUnavailable,
				Err:        errors.New("no valid host was found"),
			}, -1)
		})

		It("fails after the last attempt and leaves nothing behind", func() {
			c := newController()

			_, err := c.Provision(ctx, Request{Spec: testSpec()})
			Expect(err).To(HaveOccurred())

			var perr *ProvisionError
			Expect(errors.As(err, &perr)).To(BeTrue())
			Expect(perr.Teardown).NotTo(HaveOccurred())

			Expect(countCalls(cl.Calls(), "create server")).To(Equal(testTimeouts().CreateMaxAttempts))
			Expect(c.State()).To(Equal(bastion.StateDestroyed))
			Expect(l.All()).To(BeEmpty())
			Expect(cl.Resources()).To(BeEmpty())
		})
	})

	Context("when the bastion never becomes reachable", func() {
		It("times out, carries the last probe error and cleans up", func() {
			c := newController(neverReady("connection refused"))

			_, err := c.Provision(ctx, Request{Spec: testSpec()})
			Expect(err).To(MatchError(bastion.ErrProvisionTimeout))
			Expect(err.Error()).To(ContainSubstring("connection refused"))

			Expect(c.State()).To(Equal(bastion.StateDestroyed))
			Expect(cl.Resources()).To(BeEmpty())
		})
	})

	Context("when a deletion is refused permanently", func() {
		It("reports the leak and keeps going", func() {
			c := newController()
			_, err := c.Provision(ctx, Request{Spec: testSpec()})
			Expect(err).NotTo(HaveOccurred())

			cl.Fail(fake.OpDelete, bastion.KindKeypair, &bastion.ProviderError{
				Op:         "delete",
				Kind:       bastion.KindKeypair,
				StatusCode: http.StatusInternalServerError,
				Err:        errors.New("internal error"),
			}, -1)

			report, err := c.Teardown(ctx, TeardownOptions{})
			Expect(err).To(MatchError(bastion.ErrTeardownLeak))
			Expect(report.Leaks).To(HaveLen(1))
			Expect(report.Leaks[0].Record.Kind).To(Equal(bastion.KindKeypair))
			Expect(report.State).To(Equal(bastion.StateTearingDown))

			// Everything but the keypair is gone.
			Expect(cl.Resources()).To(HaveLen(1))
			Expect(l.All()).To(HaveLen(1))
		})
	})
})
