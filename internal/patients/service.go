package patients

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/wolfman30/clinic-scheduling-platform/internal/scheduling"
	"github.com/wolfman30/clinic-scheduling-platform/pkg/logging"
)

// Store is the persistence the identity gate needs.
type Store interface {
	Get(ctx context.Context, tenantID, id uuid.UUID) (*Patient, error)
	FindByPhone(ctx context.Context, tenantID uuid.UUID, phone string) (*Patient, error)
	Create(ctx context.Context, p *Patient) error
	Complete(ctx context.Context, p *Patient) error
}

// Service resolves the patient a booking belongs to.
type Service struct {
	store  Store
	logger *logging.Logger
}

// NewService creates a patient service.
func NewService(store Store, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{store: store, logger: logger}
}

// Resolve finds or creates the patient for a booking. It fails with
// MissingPatientDataError until name, document and insurance are all known,
// and never writes a patient in that case.
func (s *Service) Resolve(ctx context.Context, tenantID uuid.UUID, id Identity) (*Patient, error) {
	id.Phone = NormalizePhone(id.Phone)

	var existing *Patient
	var err error
	switch {
	case id.PatientID != uuid.Nil:
		existing, err = s.store.Get(ctx, tenantID, id.PatientID)
	case id.Phone != "":
		existing, err = s.store.FindByPhone(ctx, tenantID, id.Phone)
	}
	if err != nil {
		return nil, err
	}

	if missing := MissingFields(existing, id); len(missing) > 0 {
		return nil, &scheduling.MissingPatientDataError{Missing: missing}
	}

	if existing == nil {
		p := Patient{TenantID: tenantID, Status: StatusActive}.Merge(id)
		if err := s.store.Create(ctx, &p); err != nil {
			return nil, err
		}
		s.logger.Info("patient registered", "tenant_id", tenantID, "patient_id", p.ID)
		return &p, nil
	}

	merged := existing.Merge(id)
	if existing.Status != StatusActive || identityChanged(*existing, merged) {
		if err := s.store.Complete(ctx, &merged); err != nil {
			return nil, err
		}
		s.logger.Info("patient identity completed", "tenant_id", tenantID, "patient_id", merged.ID)
	}
	return &merged, nil
}

func identityChanged(a, b Patient) bool {
	return !strings.EqualFold(a.FirstName, b.FirstName) ||
		!strings.EqualFold(a.LastName, b.LastName) ||
		a.DocumentID != b.DocumentID ||
		a.Insurance != b.Insurance
}
