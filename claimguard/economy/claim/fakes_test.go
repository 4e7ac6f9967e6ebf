package claim

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rhizacore/claimguard/claimguard/database/models"
	"github.com/rhizacore/claimguard/claimguard/database/repositories"
)

type fakeUserRepo struct {
	mu        sync.Mutex
	users     map[int64]*models.User
	getErr    error
	creditErr error
	debitErr  error
}

func newFakeUserRepo(users ...*models.User) *fakeUserRepo {
	r := &fakeUserRepo{users: make(map[int64]*models.User)}
	for _, u := range users {
		cp := *u
		r.users[u.ID] = &cp
	}
	return r
}

func (r *fakeUserRepo) Create(_ context.Context, user *models.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *user
	r.users[user.ID] = &cp
	return nil
}

func (r *fakeUserRepo) GetByID(_ context.Context, userID int64) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.getErr != nil {
		return nil, r.getErr
	}
	user, ok := r.users[userID]
	if !ok {
		return nil, repositories.ErrUserNotFound
	}
	cp := *user
	return &cp, nil
}

func (r *fakeUserRepo) GetByTelegramID(_ context.Context, telegramID int64) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, user := range r.users {
		if user.TelegramID == telegramID {
			cp := *user
			return &cp, nil
		}
	}
	return nil, repositories.ErrUserNotFound
}

func (r *fakeUserRepo) CreditBalance(_ context.Context, userID int64, delta float64, claimTime time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.creditErr != nil {
		return r.creditErr
	}
	user, ok := r.users[userID]
	if !ok {
		return repositories.ErrUserNotFound
	}
	user.AvailableBalance += delta
	user.LastClaimTime = claimTime
	return nil
}

func (r *fakeUserRepo) DebitBalance(_ context.Context, userID int64, delta float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.debitErr != nil {
		return r.debitErr
	}
	user, ok := r.users[userID]
	if !ok {
		return repositories.ErrUserNotFound
	}
	user.AvailableBalance -= delta
	return nil
}

func (r *fakeUserRepo) balance(userID int64) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.users[userID].AvailableBalance
}

type fakeActivityRepo struct {
	mu      sync.Mutex
	nextID  int64
	rows    []*models.Activity
	readErr error
	markErr error
	// insertErrByType fails Insert only for the given activity types.
	insertErrByType map[string]error
}

func newFakeActivityRepo(rows ...*models.Activity) *fakeActivityRepo {
	r := &fakeActivityRepo{insertErrByType: make(map[string]error)}
	for _, row := range rows {
		cp := *row
		r.nextID++
		cp.ID = r.nextID
		r.rows = append(r.rows, &cp)
	}
	return r
}

func (r *fakeActivityRepo) Insert(_ context.Context, activity *models.Activity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.insertErrByType[activity.Type]; err != nil {
		return err
	}
	cp := *activity
	r.nextID++
	cp.ID = r.nextID
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	r.rows = append(r.rows, &cp)
	activity.ID = cp.ID
	return nil
}

func (r *fakeActivityRepo) GetCompleted(_ context.Context, userID int64, types ...string) ([]*models.Activity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.readErr != nil {
		return nil, r.readErr
	}
	var out []*models.Activity
	for _, row := range r.rows {
		if row.UserID != userID || row.Status != models.StatusCompleted {
			continue
		}
		for _, t := range types {
			if row.Type == t {
				cp := *row
				out = append(out, &cp)
				break
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *fakeActivityRepo) GetUnclaimedMining(_ context.Context, userID int64) ([]*models.Activity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.readErr != nil {
		return nil, r.readErr
	}
	var out []*models.Activity
	for _, row := range r.rows {
		if row.UserID == userID && row.Unclaimed() {
			cp := *row
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *fakeActivityRepo) find(id int64) *models.Activity {
	for _, row := range r.rows {
		if row.ID == id {
			return row
		}
	}
	return nil
}

func (r *fakeActivityRepo) MarkClaimed(_ context.Context, ids []int64, transactionID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.markErr != nil {
		return r.markErr
	}
	for _, id := range ids {
		row := r.find(id)
		if row == nil {
			return repositories.ErrActivityNotFound
		}
		row.Metadata.ClaimedToAirdrop = true
		claimedAt := at
		row.Metadata.ClaimedAt = &claimedAt
		row.Metadata.TransactionID = transactionID
	}
	return nil
}

func (r *fakeActivityRepo) UnmarkClaimed(_ context.Context, ids []int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		if row := r.find(id); row != nil {
			row.Metadata.ClaimedToAirdrop = false
			row.Metadata.ClaimedAt = nil
			row.Metadata.TransactionID = ""
		}
	}
	return nil
}

func (r *fakeActivityRepo) ExistsByTransactionID(_ context.Context, transactionID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.rows {
		if row.TransactionID == transactionID {
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeActivityRepo) GetByTransactionID(_ context.Context, transactionID string) (*models.Activity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.rows {
		if row.TransactionID == transactionID {
			cp := *row
			return &cp, nil
		}
	}
	return nil, repositories.ErrActivityNotFound
}

func (r *fakeActivityRepo) LatestMiningStart(_ context.Context, userID int64) (*models.Activity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var latest *models.Activity
	for _, row := range r.rows {
		if row.UserID != userID || row.Type != models.ActivityMiningStart || row.Status != models.StatusCompleted {
			continue
		}
		if latest == nil || row.CreatedAt.After(latest.CreatedAt) {
			latest = row
		}
	}
	if latest == nil {
		return nil, nil
	}
	cp := *latest
	return &cp, nil
}

func (r *fakeActivityRepo) HasMiningCompleteAfter(_ context.Context, userID int64, t time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.rows {
		if row.UserID == userID && row.Type == models.ActivityMiningComplete &&
			row.Status == models.StatusCompleted && row.CreatedAt.After(t) {
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeActivityRepo) countUnclaimed(userID int64) int {
	rows, _ := r.GetUnclaimedMining(context.Background(), userID)
	return len(rows)
}

func (r *fakeActivityRepo) claimRows(userID int64) []*models.Activity {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Activity
	for _, row := range r.rows {
		if row.UserID == userID && row.Type == models.ActivityClaim {
			cp := *row
			out = append(out, &cp)
		}
	}
	return out
}
