package workflow

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"bitbucket.org/vaxsync/inventory_backend/models"
)

// fakeRemoteCache keeps JSON blobs the way redis would.
type fakeRemoteCache struct {
	values  map[string][]byte
	deleted []string
	failSet error
}

func newFakeRemoteCache() *fakeRemoteCache {
	return &fakeRemoteCache{values: map[string][]byte{}}
}

func (f *fakeRemoteCache) Get(key string, dest any) (bool, error) {
	data, ok := f.values[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(data, dest)
}

func (f *fakeRemoteCache) Set(key string, obj any, _ time.Duration) error {
	if f.failSet != nil {
		return f.failSet
	}
	data, err := json.Marshal(obj)
	if err != nil {
		return err
	}
	f.values[key] = data
	return nil
}

func (f *fakeRemoteCache) Delete(keys ...string) error {
	for _, k := range keys {
		delete(f.values, k)
		f.deleted = append(f.deleted, k)
	}
	return nil
}

func TestReportCache_PutThenLookup(t *testing.T) {
	remote := newFakeRemoteCache()
	cache := NewReportCache(remote, time.Hour)
	march := time.Date(2024, 3, 17, 0, 0, 0, 0, time.UTC)

	cache.Put(march, []*models.MonthlyReport{{VaccineId: 1, EndingInventory: 40}, {VaccineId: 2, EndingInventory: 0}})

	if v, ok := cache.EndingInventory(march, 1); !ok || v != 40 {
		t.Fatalf("expected 40, got %d %v", v, ok)
	}
	if v, ok := cache.EndingInventory(march, 2); !ok || v != 0 {
		t.Fatalf("expected a cached zero, got %d %v", v, ok)
	}
	if _, ok := cache.EndingInventory(march, 3); ok {
		t.Fatalf("unknown vaccine should miss")
	}
	if _, ok := remote.values["monthly_report:2024-03"]; !ok {
		t.Fatalf("expected the month mirrored remotely, got %v", remote.values)
	}
}

func TestReportCache_FallsBackToRemote(t *testing.T) {
	remote := newFakeRemoteCache()
	NewReportCache(remote, time.Hour).Put(time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), []*models.MonthlyReport{{VaccineId: 4, EndingInventory: 75}})

	fresh := NewReportCache(remote, time.Hour)
	if v, ok := fresh.EndingInventory(time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC), 4); !ok || v != 75 {
		t.Fatalf("expected 75 from the remote mirror, got %d %v", v, ok)
	}
}

func TestReportCache_RemoteSetFailureKeepsLocal(t *testing.T) {
	remote := newFakeRemoteCache()
	remote.failSet = errors.New("redis down")
	cache := NewReportCache(remote, time.Hour)
	cache.logger = quietLogger()
	month := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	cache.Put(month, []*models.MonthlyReport{{VaccineId: 1, EndingInventory: 9}})
	if v, ok := cache.EndingInventory(month, 1); !ok || v != 9 {
		t.Fatalf("expected local value 9, got %d %v", v, ok)
	}
}

func TestReportCache_ForgetFrom(t *testing.T) {
	remote := newFakeRemoteCache()
	cache := NewReportCache(remote, time.Hour)
	for m := 1; m <= 4; m++ {
		cache.Put(time.Date(2024, time.Month(m), 1, 0, 0, 0, 0, time.UTC), []*models.MonthlyReport{{VaccineId: 1, EndingInventory: m}})
	}

	cache.ForgetFrom(time.Date(2024, 2, 10, 0, 0, 0, 0, time.UTC), time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC))

	if _, ok := cache.EndingInventory(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), 1); !ok {
		t.Fatalf("January should survive")
	}
	for _, m := range []time.Month{2, 3} {
		if _, ok := cache.EndingInventory(time.Date(2024, m, 1, 0, 0, 0, 0, time.UTC), 1); ok {
			t.Fatalf("month %d should be forgotten", m)
		}
	}
	if v, ok := cache.EndingInventory(time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC), 1); !ok || v != 4 {
		t.Fatalf("April should survive, got %d %v", v, ok)
	}
	if len(remote.deleted) != 2 || remote.deleted[0] != "monthly_report:2024-02" || remote.deleted[1] != "monthly_report:2024-03" {
		t.Fatalf("unexpected remote deletes %v", remote.deleted)
	}
}

func TestReceiveStock_BackdatedReceiptForgetsCachedMonths(t *testing.T) {
	remote := newFakeRemoteCache()
	cache := NewReportCache(remote, time.Hour)
	f := newLedgerFixture(t, WithReportCache(cache))
	feb := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	cache.Put(feb, []*models.MonthlyReport{{VaccineId: f.vaccine.ID, EndingInventory: 10}})

	_, err := f.ledger.ReceiveStock(f.ctx, ReceiveStockInput{
		BarangayId:       testBarangay,
		DoseDefinitionId: f.doseDef.ID,
		Vials:            2,
		ReceivedDate:     time.Date(2024, 2, 20, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("ReceiveStock: %v", err)
	}
	if _, ok := cache.EndingInventory(feb, f.vaccine.ID); ok {
		t.Fatalf("February ending should be forgotten after a February receipt")
	}
	if len(remote.deleted) != 2 {
		t.Fatalf("expected February and March dropped remotely, got %v", remote.deleted)
	}
}

func TestReceiveStock_CurrentMonthReceiptForgetsCachedMonth(t *testing.T) {
	remote := newFakeRemoteCache()
	cache := NewReportCache(remote, time.Hour)
	f := newLedgerFixture(t, WithReportCache(cache))
	march := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	cache.Put(march, []*models.MonthlyReport{{VaccineId: f.vaccine.ID, EndingInventory: 10}})

	_, err := f.ledger.ReceiveStock(f.ctx, ReceiveStockInput{
		BarangayId:       testBarangay,
		DoseDefinitionId: f.doseDef.ID,
		Vials:            2,
		ReceivedDate:     day(5),
	})
	if err != nil {
		t.Fatalf("ReceiveStock: %v", err)
	}
	if _, ok := cache.EndingInventory(march, f.vaccine.ID); ok {
		t.Fatalf("a computed March ending should be forgotten after a March receipt")
	}
	if len(remote.deleted) != 1 || remote.deleted[0] != "monthly_report:2024-03" {
		t.Fatalf("unexpected remote deletes %v", remote.deleted)
	}
}
