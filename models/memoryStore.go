package models

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process Store. Its Transaction is not atomic: a failed
// step leaves earlier writes in place, the same way sequential remote calls do.
type MemoryStore struct {
	mu       sync.Mutex
	nextId   int
	vaccines map[int]*Vaccine
	doseDefs map[int]*VaccineDoseDefinition
	batches  map[int]*InventoryBatch
	sessions map[int]*VaccinationSession
	requests map[int]*VaccineRequest
	reports  map[reportKey]*MonthlyReport
	failures map[string]*injectedFailure
	calls    map[string]int
}

type reportKey struct {
	vaccineId int
	month     time.Time
}

type injectedFailure struct {
	after int
	err   error
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*GormStore)(nil)
)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		vaccines: map[int]*Vaccine{},
		doseDefs: map[int]*VaccineDoseDefinition{},
		batches:  map[int]*InventoryBatch{},
		sessions: map[int]*VaccinationSession{},
		requests: map[int]*VaccineRequest{},
		reports:  map[reportKey]*MonthlyReport{},
		failures: map[string]*injectedFailure{},
		calls:    map[string]int{},
	}
}

// FailOn makes op return a StorageError wrapping err once it has succeeded `after` times.
func (m *MemoryStore) FailOn(op string, after int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[op] = &injectedFailure{after: after, err: err}
}

func (m *MemoryStore) ClearFailures() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = map[string]*injectedFailure{}
}

// Calls reports how many times op was invoked, failed calls included.
func (m *MemoryStore) Calls(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

// enter must be called with mu held.
func (m *MemoryStore) enter(ctx context.Context, op string) error {
	m.calls[op]++
	if err := ctx.Err(); err != nil {
		return &StorageError{Op: op, Err: err}
	}
	f, ok := m.failures[op]
	if !ok {
		return nil
	}
	if f.after > 0 {
		f.after--
		return nil
	}
	return &StorageError{Op: op, Err: f.err}
}

func (m *MemoryStore) id() int {
	m.nextId++
	return m.nextId
}

// seeding

func (m *MemoryStore) AddVaccine(v Vaccine) *Vaccine {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v.ID == 0 {
		v.ID = m.id()
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now()
	}
	m.vaccines[v.ID] = &v
	out := v
	return &out
}

func (m *MemoryStore) AddDoseDefinition(d VaccineDoseDefinition) *VaccineDoseDefinition {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d.ID == 0 {
		d.ID = m.id()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now()
	}
	m.doseDefs[d.ID] = &d
	out := d
	return &out
}

func (m *MemoryStore) AddInventoryBatch(b InventoryBatch) *InventoryBatch {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b.ID == 0 {
		b.ID = m.id()
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now()
	}
	m.batches[b.ID] = &b
	out := b
	return &out
}

func (m *MemoryStore) AddSession(s VaccinationSession) *VaccinationSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.ID == 0 {
		s.ID = m.id()
	}
	if s.Status == "" {
		s.Status = SessionStatusScheduled
	}
	m.sessions[s.ID] = &s
	out := s
	return &out
}

func (m *MemoryStore) AddRequest(r VaccineRequest) *VaccineRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.ID == 0 {
		r.ID = m.id()
	}
	if r.Status == "" {
		r.Status = VaccineRequestStatusPending
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	m.requests[r.ID] = &r
	out := r
	return &out
}

// DeleteVaccine drops a vaccine, used to exercise compensating paths.
func (m *MemoryStore) DeleteVaccine(id int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.vaccines, id)
}

func (m *MemoryStore) ReportCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.reports)
}

func (m *MemoryStore) Transaction(ctx context.Context, fn func(Store) error) error {
	m.mu.Lock()
	err := m.enter(ctx, "Transaction")
	m.mu.Unlock()
	if err != nil {
		return err
	}
	return fn(m)
}

// vaccines

func (m *MemoryStore) GetVaccine(ctx context.Context, id int) (*Vaccine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(ctx, "GetVaccine"); err != nil {
		return nil, err
	}
	v, ok := m.vaccines[id]
	if !ok {
		return nil, NewNotFoundError("vaccine", "%d", id)
	}
	out := *v
	return &out, nil
}

func (m *MemoryStore) ListVaccines(ctx context.Context) ([]*Vaccine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(ctx, "ListVaccines"); err != nil {
		return nil, err
	}
	out := make([]*Vaccine, 0, len(m.vaccines))
	for _, v := range m.vaccines {
		c := *v
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) UpdateVaccineQuantity(ctx context.Context, id int, quantity int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(ctx, "UpdateVaccineQuantity"); err != nil {
		return err
	}
	v, ok := m.vaccines[id]
	if !ok {
		return NewNotFoundError("vaccine", "%d", id)
	}
	v.QuantityAvailable = quantity
	return nil
}

// dose definitions

func (m *MemoryStore) GetDoseDefinition(ctx context.Context, id int) (*VaccineDoseDefinition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(ctx, "GetDoseDefinition"); err != nil {
		return nil, err
	}
	d, ok := m.doseDefs[id]
	if !ok {
		return nil, NewNotFoundError("dose definition", "%d", id)
	}
	out := *d
	return &out, nil
}

func (m *MemoryStore) ListDoseDefinitionsByVaccine(ctx context.Context, vaccineId int) ([]*VaccineDoseDefinition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(ctx, "ListDoseDefinitionsByVaccine"); err != nil {
		return nil, err
	}
	var out []*VaccineDoseDefinition
	for _, d := range m.doseDefs {
		if d.VaccineId == vaccineId {
			c := *d
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *MemoryStore) UpdateDoseDefinitionQuantity(ctx context.Context, id int, quantity int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(ctx, "UpdateDoseDefinitionQuantity"); err != nil {
		return err
	}
	d, ok := m.doseDefs[id]
	if !ok {
		return NewNotFoundError("dose definition", "%d", id)
	}
	d.QuantityAvailable = quantity
	return nil
}

// inventory batches

func (m *MemoryStore) GetInventoryBatch(ctx context.Context, id int) (*InventoryBatch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(ctx, "GetInventoryBatch"); err != nil {
		return nil, err
	}
	b, ok := m.batches[id]
	if !ok {
		return nil, NewNotFoundError("inventory batch", "%d", id)
	}
	out := *b
	return &out, nil
}

func (m *MemoryStore) filterBatches(keep func(*InventoryBatch) bool) []*InventoryBatch {
	var out []*InventoryBatch
	for _, b := range m.batches {
		if keep(b) {
			c := *b
			out = append(out, &c)
		}
	}
	SortBatchesFIFO(out)
	return out
}

func (m *MemoryStore) ListInventoryBatches(ctx context.Context, barangayId int, doseDefinitionId int) ([]*InventoryBatch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(ctx, "ListInventoryBatches"); err != nil {
		return nil, err
	}
	return m.filterBatches(func(b *InventoryBatch) bool {
		return b.BarangayId == barangayId && b.DoseDefinitionId == doseDefinitionId
	}), nil
}

func (m *MemoryStore) ListInventoryBatchesByDoseDefinition(ctx context.Context, doseDefinitionId int) ([]*InventoryBatch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(ctx, "ListInventoryBatchesByDoseDefinition"); err != nil {
		return nil, err
	}
	return m.filterBatches(func(b *InventoryBatch) bool {
		return b.DoseDefinitionId == doseDefinitionId
	}), nil
}

func (m *MemoryStore) ListInventoryBatchesReceivedBetween(ctx context.Context, from time.Time, to time.Time) ([]*InventoryBatch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(ctx, "ListInventoryBatchesReceivedBetween"); err != nil {
		return nil, err
	}
	return m.filterBatches(func(b *InventoryBatch) bool {
		if !b.ReceivedDate.Before(to) {
			return false
		}
		return from.IsZero() || !b.ReceivedDate.Before(from)
	}), nil
}

func (m *MemoryStore) CreateInventoryBatch(ctx context.Context, batch *InventoryBatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(ctx, "CreateInventoryBatch"); err != nil {
		return err
	}
	if err := batch.BeforeSave(nil); err != nil {
		return &StorageError{Op: "CreateInventoryBatch", Err: err}
	}
	batch.ID = m.id()
	now := time.Now()
	batch.CreatedAt = now
	batch.UpdatedAt = now
	c := *batch
	m.batches[c.ID] = &c
	return nil
}

func (m *MemoryStore) UpdateInventoryBatchQuantities(ctx context.Context, batch *InventoryBatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(ctx, "UpdateInventoryBatchQuantities"); err != nil {
		return err
	}
	b, ok := m.batches[batch.ID]
	if !ok {
		return NewNotFoundError("inventory batch", "%d", batch.ID)
	}
	if err := batch.BeforeSave(nil); err != nil {
		return &StorageError{Op: "UpdateInventoryBatchQuantities", Err: err}
	}
	b.QuantityVial = batch.QuantityVial
	b.QuantityDose = batch.QuantityDose
	b.ReservedVial = batch.ReservedVial
	b.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) UpdateReservedVial(ctx context.Context, batchId int, reserved int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(ctx, "UpdateReservedVial"); err != nil {
		return err
	}
	b, ok := m.batches[batchId]
	if !ok {
		return NewNotFoundError("inventory batch", "%d", batchId)
	}
	b.ReservedVial = min(max(reserved, 0), b.QuantityVial)
	return nil
}

func (m *MemoryStore) TryReserveVials(ctx context.Context, batchId int, vials int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(ctx, "TryReserveVials"); err != nil {
		return false, err
	}
	b, ok := m.batches[batchId]
	if !ok || b.ReservedVial+vials > b.QuantityVial {
		return false, nil
	}
	b.ReservedVial += vials
	return true, nil
}

// sessions

func (m *MemoryStore) GetSession(ctx context.Context, id int) (*VaccinationSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(ctx, "GetSession"); err != nil {
		return nil, err
	}
	s, ok := m.sessions[id]
	if !ok {
		return nil, NewNotFoundError("vaccination session", "%d", id)
	}
	out := *s
	return &out, nil
}

func (m *MemoryStore) sortedSessions(keep func(*VaccinationSession) bool) []*VaccinationSession {
	var out []*VaccinationSession
	for _, s := range m.sessions {
		if keep(s) {
			c := *s
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].SessionDate.Equal(out[j].SessionDate) {
			return out[i].SessionDate.Before(out[j].SessionDate)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (m *MemoryStore) ListActiveSessions(ctx context.Context, barangayId int, doseDefinitionId int) ([]*VaccinationSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(ctx, "ListActiveSessions"); err != nil {
		return nil, err
	}
	return m.sortedSessions(func(s *VaccinationSession) bool {
		return s.BarangayId == barangayId && s.DoseDefinitionId == doseDefinitionId && s.Status.IsActive()
	}), nil
}

func (m *MemoryStore) ListSessionsBetween(ctx context.Context, from time.Time, to time.Time) ([]*VaccinationSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(ctx, "ListSessionsBetween"); err != nil {
		return nil, err
	}
	return m.sortedSessions(func(s *VaccinationSession) bool {
		return !s.SessionDate.Before(from) && s.SessionDate.Before(to)
	}), nil
}

func (m *MemoryStore) UpdateSessionProgress(ctx context.Context, id int, administered int, wastage int, status SessionStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(ctx, "UpdateSessionProgress"); err != nil {
		return err
	}
	s, ok := m.sessions[id]
	if !ok {
		return NewNotFoundError("vaccination session", "%d", id)
	}
	s.Administered = administered
	s.Wastage = wastage
	s.Status = status
	return nil
}

// requests

func (m *MemoryStore) GetVaccineRequest(ctx context.Context, id int) (*VaccineRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(ctx, "GetVaccineRequest"); err != nil {
		return nil, err
	}
	r, ok := m.requests[id]
	if !ok {
		return nil, NewNotFoundError("vaccine request", "%d", id)
	}
	out := *r
	return &out, nil
}

func (m *MemoryStore) ListRequestsBetween(ctx context.Context, from time.Time, to time.Time) ([]*VaccineRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(ctx, "ListRequestsBetween"); err != nil {
		return nil, err
	}
	in := func(t time.Time) bool { return !t.Before(from) && t.Before(to) }
	var out []*VaccineRequest
	for _, r := range m.requests {
		if in(r.CreatedAt) || (r.ApprovedAt != nil && in(*r.ApprovedAt)) {
			c := *r
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) MarkRequestApproved(ctx context.Context, id int, approvedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(ctx, "MarkRequestApproved"); err != nil {
		return err
	}
	r, ok := m.requests[id]
	if !ok {
		return NewNotFoundError("vaccine request", "%d", id)
	}
	r.Status = VaccineRequestStatusApproved
	r.ApprovedAt = &approvedAt
	return nil
}

// monthly reports

func (m *MemoryStore) GetMonthlyReport(ctx context.Context, vaccineId int, month time.Time) (*MonthlyReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(ctx, "GetMonthlyReport"); err != nil {
		return nil, err
	}
	r, ok := m.reports[reportKey{vaccineId, MonthStart(month)}]
	if !ok {
		return nil, NewNotFoundError("monthly report", "%d", vaccineId)
	}
	out := *r
	return &out, nil
}

func (m *MemoryStore) ListMonthlyReports(ctx context.Context, month time.Time) ([]*MonthlyReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(ctx, "ListMonthlyReports"); err != nil {
		return nil, err
	}
	month = MonthStart(month)
	var out []*MonthlyReport
	for k, r := range m.reports {
		if k.month.Equal(month) {
			c := *r
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].VaccineName != out[j].VaccineName {
			return out[i].VaccineName < out[j].VaccineName
		}
		return out[i].VaccineId < out[j].VaccineId
	})
	return out, nil
}

func (m *MemoryStore) putReport(r *MonthlyReport) {
	key := reportKey{r.VaccineId, MonthStart(r.Month)}
	c := *r
	c.Month = key.month
	now := time.Now()
	if existing, ok := m.reports[key]; ok {
		c.ID = existing.ID
		c.CreatedAt = existing.CreatedAt
	} else {
		c.ID = m.id()
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	m.reports[key] = &c
	r.ID = c.ID
}

func (m *MemoryStore) UpsertMonthlyReport(ctx context.Context, r *MonthlyReport) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(ctx, "UpsertMonthlyReport"); err != nil {
		return err
	}
	m.putReport(r)
	return nil
}

func (m *MemoryStore) ReplaceMonthlyReport(ctx context.Context, r *MonthlyReport) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(ctx, "ReplaceMonthlyReport"); err != nil {
		return err
	}
	delete(m.reports, reportKey{r.VaccineId, MonthStart(r.Month)})
	m.putReport(r)
	return nil
}
