package observability

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Domain counts receivables lifecycle events. It satisfies receivables.Recorder.
type Domain struct {
	reminders *prometheus.CounterVec
	cases     prometheus.Counter
	paid      prometheus.Counter
}

// NewDomain registers the lifecycle counters. A nil registerer uses the
// default Prometheus registerer.
func NewDomain(registerer prometheus.Registerer) *Domain {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	d := &Domain{
		reminders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "velo_reminders_issued_total",
			Help: "Reminders issued by dunning level.",
		}, []string{"level"}),
		cases: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "velo_collection_cases_opened_total",
			Help: "Invoices handed to the collection partner.",
		}),
		paid: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "velo_invoices_paid_total",
			Help: "Invoices settled, directly or through collection.",
		}),
	}
	registerer.MustRegister(d.reminders, d.cases, d.paid)
	return d
}

// ReminderIssued counts one reminder at level.
func (d *Domain) ReminderIssued(level int) {
	d.reminders.WithLabelValues(strconv.Itoa(level)).Inc()
}

// CaseOpened counts one hand-off.
func (d *Domain) CaseOpened() { d.cases.Inc() }

// InvoicePaid counts one settled invoice.
func (d *Domain) InvoicePaid() { d.paid.Inc() }
