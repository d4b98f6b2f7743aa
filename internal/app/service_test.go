package app

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"taskshare/api/internal/config"
	"taskshare/api/internal/perm"
	"taskshare/api/internal/store"
)

// fakeStore implements dataStore through func fields so each test only
// wires the calls it expects.
type fakeStore struct {
	PingFn func(ctx context.Context) error

	CreateUserFn        func(ctx context.Context, name, email, passwordHash string) (store.User, error)
	GetUserByEmailFn    func(ctx context.Context, email string) (store.User, error)
	GetUserByIDFn       func(ctx context.Context, id string) (store.User, error)
	UserProfileCountsFn func(ctx context.Context, userID string) (int, int, error)

	CreateListFn        func(ctx context.Context, ownerID, title, description, color string) (store.TaskList, error)
	GetListFn           func(ctx context.Context, id string) (store.TaskList, error)
	ListListsForUserFn  func(ctx context.Context, userID string) ([]store.TaskList, error)
	UpdateListFn        func(ctx context.Context, id string, title, description, color *string, isArchived *bool) error
	DeleteListCascadeFn func(ctx context.Context, id string) error

	GetListShareFn      func(ctx context.Context, listID, userID string) (store.ListShare, error)
	UpsertListShareFn   func(ctx context.Context, listID, userID, permission string) (store.ListShare, error)
	DeleteListShareFn   func(ctx context.Context, listID, userID string) error
	ListSharesForListFn func(ctx context.Context, listID string) ([]store.ListShare, error)

	CreateTaskFn        func(ctx context.Context, listID, title, description, priority string, dueDate *time.Time, position int) (store.Task, error)
	GetTaskFn           func(ctx context.Context, id string) (store.Task, error)
	ListTasksByListFn   func(ctx context.Context, listID string) ([]store.Task, error)
	ListTaskIDsFn       func(ctx context.Context, listID string) ([]string, error)
	MaxTaskPositionFn   func(ctx context.Context, listID string) (int, error)
	UpdateTaskFn        func(ctx context.Context, id string, title, description, priority *string, completed *bool, dueDate *time.Time, clearDueDate bool) error
	SetTaskCompletedFn  func(ctx context.Context, id string, completed bool) error
	DeleteTaskCascadeFn func(ctx context.Context, id string) error
	ReorderTasksFn      func(ctx context.Context, listID string, taskIDs []string) error

	CreateCommentFn      func(ctx context.Context, taskID, userID, content string) (store.Comment, error)
	GetCommentFn         func(ctx context.Context, id string) (store.Comment, error)
	ListCommentsByTaskFn func(ctx context.Context, taskID string) ([]store.Comment, error)
	UpdateCommentFn      func(ctx context.Context, id, content string) error
	DeleteCommentFn      func(ctx context.Context, id string) error

	ReplaceRefreshTokenFn        func(ctx context.Context, userID, token string, expiresAt time.Time) error
	GetRefreshTokenFn            func(ctx context.Context, token string) (store.RefreshToken, error)
	RotateRefreshTokenFn         func(ctx context.Context, oldToken, newToken string, expiresAt time.Time) error
	DeleteRefreshTokensForUserFn func(ctx context.Context, userID string) error
}

func (f *fakeStore) Ping(ctx context.Context) error {
	if f.PingFn != nil {
		return f.PingFn(ctx)
	}
	return nil
}

func (f *fakeStore) CreateUser(ctx context.Context, name, email, passwordHash string) (store.User, error) {
	if f.CreateUserFn != nil {
		return f.CreateUserFn(ctx, name, email, passwordHash)
	}
	return store.User{ID: "usr-new", Name: name, Email: email, PasswordHash: passwordHash, IsActive: true}, nil
}

func (f *fakeStore) GetUserByEmail(ctx context.Context, email string) (store.User, error) {
	if f.GetUserByEmailFn != nil {
		return f.GetUserByEmailFn(ctx, email)
	}
	return store.User{}, sql.ErrNoRows
}

func (f *fakeStore) GetUserByID(ctx context.Context, id string) (store.User, error) {
	if f.GetUserByIDFn != nil {
		return f.GetUserByIDFn(ctx, id)
	}
	return store.User{ID: id, IsActive: true}, nil
}

func (f *fakeStore) UserProfileCounts(ctx context.Context, userID string) (int, int, error) {
	if f.UserProfileCountsFn != nil {
		return f.UserProfileCountsFn(ctx, userID)
	}
	return 0, 0, nil
}

func (f *fakeStore) CreateList(ctx context.Context, ownerID, title, description, color string) (store.TaskList, error) {
	if f.CreateListFn != nil {
		return f.CreateListFn(ctx, ownerID, title, description, color)
	}
	return store.TaskList{ID: "lst-new", OwnerID: ownerID, Title: title, Description: description, Color: color}, nil
}

func (f *fakeStore) GetList(ctx context.Context, id string) (store.TaskList, error) {
	if f.GetListFn != nil {
		return f.GetListFn(ctx, id)
	}
	return store.TaskList{}, sql.ErrNoRows
}

func (f *fakeStore) ListListsForUser(ctx context.Context, userID string) ([]store.TaskList, error) {
	if f.ListListsForUserFn != nil {
		return f.ListListsForUserFn(ctx, userID)
	}
	return nil, nil
}

func (f *fakeStore) UpdateList(ctx context.Context, id string, title, description, color *string, isArchived *bool) error {
	if f.UpdateListFn != nil {
		return f.UpdateListFn(ctx, id, title, description, color, isArchived)
	}
	return nil
}

func (f *fakeStore) DeleteListCascade(ctx context.Context, id string) error {
	if f.DeleteListCascadeFn != nil {
		return f.DeleteListCascadeFn(ctx, id)
	}
	return nil
}

func (f *fakeStore) GetListShare(ctx context.Context, listID, userID string) (store.ListShare, error) {
	if f.GetListShareFn != nil {
		return f.GetListShareFn(ctx, listID, userID)
	}
	return store.ListShare{}, sql.ErrNoRows
}

func (f *fakeStore) UpsertListShare(ctx context.Context, listID, userID, permission string) (store.ListShare, error) {
	if f.UpsertListShareFn != nil {
		return f.UpsertListShareFn(ctx, listID, userID, permission)
	}
	return store.ListShare{ID: "shr-new", ListID: listID, UserID: userID, Permission: permission}, nil
}

func (f *fakeStore) DeleteListShare(ctx context.Context, listID, userID string) error {
	if f.DeleteListShareFn != nil {
		return f.DeleteListShareFn(ctx, listID, userID)
	}
	return nil
}

func (f *fakeStore) ListSharesForList(ctx context.Context, listID string) ([]store.ListShare, error) {
	if f.ListSharesForListFn != nil {
		return f.ListSharesForListFn(ctx, listID)
	}
	return nil, nil
}

func (f *fakeStore) CreateTask(ctx context.Context, listID, title, description, priority string, dueDate *time.Time, position int) (store.Task, error) {
	if f.CreateTaskFn != nil {
		return f.CreateTaskFn(ctx, listID, title, description, priority, dueDate, position)
	}
	return store.Task{ID: "tsk-new", ListID: listID, Title: title, Priority: priority, Position: position}, nil
}

func (f *fakeStore) GetTask(ctx context.Context, id string) (store.Task, error) {
	if f.GetTaskFn != nil {
		return f.GetTaskFn(ctx, id)
	}
	return store.Task{}, sql.ErrNoRows
}

func (f *fakeStore) ListTasksByList(ctx context.Context, listID string) ([]store.Task, error) {
	if f.ListTasksByListFn != nil {
		return f.ListTasksByListFn(ctx, listID)
	}
	return nil, nil
}

func (f *fakeStore) ListTaskIDs(ctx context.Context, listID string) ([]string, error) {
	if f.ListTaskIDsFn != nil {
		return f.ListTaskIDsFn(ctx, listID)
	}
	return nil, nil
}

func (f *fakeStore) MaxTaskPosition(ctx context.Context, listID string) (int, error) {
	if f.MaxTaskPositionFn != nil {
		return f.MaxTaskPositionFn(ctx, listID)
	}
	return 0, nil
}

func (f *fakeStore) UpdateTask(ctx context.Context, id string, title, description, priority *string, completed *bool, dueDate *time.Time, clearDueDate bool) error {
	if f.UpdateTaskFn != nil {
		return f.UpdateTaskFn(ctx, id, title, description, priority, completed, dueDate, clearDueDate)
	}
	return nil
}

func (f *fakeStore) SetTaskCompleted(ctx context.Context, id string, completed bool) error {
	if f.SetTaskCompletedFn != nil {
		return f.SetTaskCompletedFn(ctx, id, completed)
	}
	return nil
}

func (f *fakeStore) DeleteTaskCascade(ctx context.Context, id string) error {
	if f.DeleteTaskCascadeFn != nil {
		return f.DeleteTaskCascadeFn(ctx, id)
	}
	return nil
}

func (f *fakeStore) ReorderTasks(ctx context.Context, listID string, taskIDs []string) error {
	if f.ReorderTasksFn != nil {
		return f.ReorderTasksFn(ctx, listID, taskIDs)
	}
	return nil
}

func (f *fakeStore) CreateComment(ctx context.Context, taskID, userID, content string) (store.Comment, error) {
	if f.CreateCommentFn != nil {
		return f.CreateCommentFn(ctx, taskID, userID, content)
	}
	return store.Comment{ID: "cmt-new", TaskID: taskID, UserID: userID, Content: content}, nil
}

func (f *fakeStore) GetComment(ctx context.Context, id string) (store.Comment, error) {
	if f.GetCommentFn != nil {
		return f.GetCommentFn(ctx, id)
	}
	return store.Comment{}, sql.ErrNoRows
}

func (f *fakeStore) ListCommentsByTask(ctx context.Context, taskID string) ([]store.Comment, error) {
	if f.ListCommentsByTaskFn != nil {
		return f.ListCommentsByTaskFn(ctx, taskID)
	}
	return nil, nil
}

func (f *fakeStore) UpdateComment(ctx context.Context, id, content string) error {
	if f.UpdateCommentFn != nil {
		return f.UpdateCommentFn(ctx, id, content)
	}
	return nil
}

func (f *fakeStore) DeleteComment(ctx context.Context, id string) error {
	if f.DeleteCommentFn != nil {
		return f.DeleteCommentFn(ctx, id)
	}
	return nil
}

func (f *fakeStore) ReplaceRefreshToken(ctx context.Context, userID, token string, expiresAt time.Time) error {
	if f.ReplaceRefreshTokenFn != nil {
		return f.ReplaceRefreshTokenFn(ctx, userID, token, expiresAt)
	}
	return nil
}

func (f *fakeStore) GetRefreshToken(ctx context.Context, token string) (store.RefreshToken, error) {
	if f.GetRefreshTokenFn != nil {
		return f.GetRefreshTokenFn(ctx, token)
	}
	return store.RefreshToken{}, sql.ErrNoRows
}

func (f *fakeStore) RotateRefreshToken(ctx context.Context, oldToken, newToken string, expiresAt time.Time) error {
	if f.RotateRefreshTokenFn != nil {
		return f.RotateRefreshTokenFn(ctx, oldToken, newToken, expiresAt)
	}
	return nil
}

func (f *fakeStore) DeleteRefreshTokensForUser(ctx context.Context, userID string) error {
	if f.DeleteRefreshTokensForUserFn != nil {
		return f.DeleteRefreshTokensForUserFn(ctx, userID)
	}
	return nil
}

func testConfig() config.Config {
	return config.Config{
		JWTSecret:  "test-secret",
		AccessTTL:  15 * time.Minute,
		RefreshTTL: 30 * 24 * time.Hour,
		BcryptCost: bcrypt.MinCost,
	}
}

func newTestService(st *fakeStore) *Service {
	return New(testConfig(), st, nil)
}

// ownedList wires a fakeStore so that "lst-1" exists with owner
// "usr-owner" and the given share (if any) for other callers.
func ownedList(share *store.ListShare) *fakeStore {
	f := &fakeStore{}
	f.GetListFn = func(ctx context.Context, id string) (store.TaskList, error) {
		if id != "lst-1" {
			return store.TaskList{}, sql.ErrNoRows
		}
		return store.TaskList{ID: "lst-1", Title: "Groceries", OwnerID: "usr-owner"}, nil
	}
	f.GetListShareFn = func(ctx context.Context, listID, userID string) (store.ListShare, error) {
		if share != nil && listID == share.ListID && userID == share.UserID {
			return *share, nil
		}
		return store.ListShare{}, sql.ErrNoRows
	}
	return f
}

func domainErrFrom(t *testing.T, err error) *DomainError {
	t.Helper()
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		t.Fatalf("expected DomainError, got %v", err)
	}
	return domainErr
}

func TestResolvePermissionLevels(t *testing.T) {
	cases := []struct {
		name   string
		share  *store.ListShare
		caller string
		want   perm.Level
	}{
		{"owner", nil, "usr-owner", perm.Owner},
		{"write share", &store.ListShare{ListID: "lst-1", UserID: "usr-b", Permission: "WRITE"}, "usr-b", perm.Write},
		{"read share", &store.ListShare{ListID: "lst-1", UserID: "usr-b", Permission: "READ"}, "usr-b", perm.Read},
		{"stranger", nil, "usr-b", perm.None},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := newTestService(ownedList(tc.share))
			_, level, err := svc.resolvePermission(context.Background(), "lst-1", tc.caller)
			if err != nil {
				t.Fatalf("resolvePermission failed: %v", err)
			}
			if level != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, level)
			}
		})
	}
}

func TestOnlyOwnerGetsOwnerLevel(t *testing.T) {
	// Even a WRITE share never grants OWNER.
	share := &store.ListShare{ListID: "lst-1", UserID: "usr-b", Permission: "WRITE"}
	svc := newTestService(ownedList(share))

	_, level, err := svc.resolvePermission(context.Background(), "lst-1", "usr-b")
	if err != nil {
		t.Fatalf("resolvePermission failed: %v", err)
	}
	if level == perm.Owner {
		t.Fatal("share must not grant OWNER")
	}

	err = svc.DeleteList(context.Background(), Identity{UserID: "usr-b"}, "lst-1")
	domainErr := domainErrFrom(t, err)
	if domainErr.Code != "FORBIDDEN" {
		t.Fatalf("expected FORBIDDEN, got %s", domainErr.Code)
	}
}

func TestMissingAndHiddenListsLookIdentical(t *testing.T) {
	svc := newTestService(ownedList(nil))
	ident := Identity{UserID: "usr-b"}

	_, _, errMissing := svc.GetList(context.Background(), ident, "lst-nope")
	_, _, errHidden := svc.GetList(context.Background(), ident, "lst-1")

	missing := domainErrFrom(t, errMissing)
	hidden := domainErrFrom(t, errHidden)

	if missing.Status != hidden.Status || missing.Code != hidden.Code || missing.Message != hidden.Message {
		t.Fatalf("denials must be indistinguishable on the wire: %+v vs %+v", missing, hidden)
	}
	if missing.Reason == hidden.Reason {
		t.Fatal("internal reasons should differ for telemetry")
	}
}

func TestReadShareCannotWrite(t *testing.T) {
	share := &store.ListShare{ListID: "lst-1", UserID: "usr-b", Permission: "READ"}
	svc := newTestService(ownedList(share))
	ident := Identity{UserID: "usr-b"}

	title := "renamed"
	_, err := svc.UpdateList(context.Background(), ident, "lst-1", UpdateListInput{Title: &title})
	domainErr := domainErrFrom(t, err)
	if domainErr.Code != "FORBIDDEN" {
		t.Fatalf("expected FORBIDDEN, got %s", domainErr.Code)
	}

	// Reading still works.
	if _, _, err := svc.GetList(context.Background(), ident, "lst-1"); err != nil {
		t.Fatalf("read share should read: %v", err)
	}
}

func TestPermissionUpgradeLifecycle(t *testing.T) {
	// B starts with READ, gets upgraded to WRITE, and the list is then
	// deleted by its owner. Each step changes what B can do.
	var (
		mu      sync.Mutex
		permB   = "READ"
		deleted = false
	)

	f := &fakeStore{}
	f.GetListFn = func(ctx context.Context, id string) (store.TaskList, error) {
		mu.Lock()
		defer mu.Unlock()
		if id != "lst-1" || deleted {
			return store.TaskList{}, sql.ErrNoRows
		}
		return store.TaskList{ID: "lst-1", Title: "Project", OwnerID: "usr-owner"}, nil
	}
	f.GetListShareFn = func(ctx context.Context, listID, userID string) (store.ListShare, error) {
		mu.Lock()
		defer mu.Unlock()
		if userID != "usr-b" || deleted {
			return store.ListShare{}, sql.ErrNoRows
		}
		return store.ListShare{ListID: listID, UserID: userID, Permission: permB}, nil
	}
	f.GetUserByEmailFn = func(ctx context.Context, email string) (store.User, error) {
		return store.User{ID: "usr-b", Email: email, IsActive: true}, nil
	}
	f.UpsertListShareFn = func(ctx context.Context, listID, userID, permission string) (store.ListShare, error) {
		mu.Lock()
		permB = permission
		mu.Unlock()
		return store.ListShare{ID: "shr-1", ListID: listID, UserID: userID, Permission: permission}, nil
	}
	f.DeleteListCascadeFn = func(ctx context.Context, id string) error {
		mu.Lock()
		deleted = true
		mu.Unlock()
		return nil
	}
	svc := newTestService(f)

	owner := Identity{UserID: "usr-owner"}
	b := Identity{UserID: "usr-b"}
	ctx := context.Background()
	title := "renamed"

	// READ: B can see the list but not change it.
	if _, _, err := svc.GetList(ctx, b, "lst-1"); err != nil {
		t.Fatalf("B should read with READ: %v", err)
	}
	_, err := svc.UpdateList(ctx, b, "lst-1", UpdateListInput{Title: &title})
	if domainErrFrom(t, err).Code != "FORBIDDEN" {
		t.Fatal("READ must not allow updates")
	}

	// Owner upgrades B to WRITE; now updates work but deletion does not.
	if _, err := svc.ShareList(ctx, owner, "lst-1", ShareListInput{Email: "b@x.com", Permission: "WRITE"}); err != nil {
		t.Fatalf("upgrade failed: %v", err)
	}
	if _, err := svc.UpdateList(ctx, b, "lst-1", UpdateListInput{Title: &title}); err != nil {
		t.Fatalf("B should update with WRITE: %v", err)
	}
	if domainErrFrom(t, svc.DeleteList(ctx, b, "lst-1")).Code != "FORBIDDEN" {
		t.Fatal("WRITE must not allow deletion")
	}

	// Owner deletes; the list vanishes for everyone.
	if err := svc.DeleteList(ctx, owner, "lst-1"); err != nil {
		t.Fatalf("owner delete failed: %v", err)
	}
	_, _, err = svc.GetList(ctx, b, "lst-1")
	if domainErrFrom(t, err).Code != "NOT_FOUND" {
		t.Fatal("deleted list must be gone")
	}
}

func TestShareListRejectsSelfShare(t *testing.T) {
	f := ownedList(nil)
	f.GetUserByEmailFn = func(ctx context.Context, email string) (store.User, error) {
		return store.User{ID: "usr-owner", Email: email, IsActive: true}, nil
	}
	svc := newTestService(f)

	_, err := svc.ShareList(context.Background(), Identity{UserID: "usr-owner"}, "lst-1", ShareListInput{
		Email:      "owner@example.com",
		Permission: "READ",
	})
	domainErr := domainErrFrom(t, err)
	if domainErr.Code != "VALIDATION_ERROR" {
		t.Fatalf("expected VALIDATION_ERROR, got %s", domainErr.Code)
	}
}

func TestShareListRejectsOwnerGrantAndUnknownLevels(t *testing.T) {
	for _, level := range []string{"OWNER", "ADMIN", ""} {
		f := ownedList(nil)
		svc := newTestService(f)
		_, err := svc.ShareList(context.Background(), Identity{UserID: "usr-owner"}, "lst-1", ShareListInput{
			Email:      "bob@example.com",
			Permission: level,
		})
		domainErr := domainErrFrom(t, err)
		if domainErr.Code != "VALIDATION_ERROR" {
			t.Fatalf("permission %q: expected VALIDATION_ERROR, got %s", level, domainErr.Code)
		}
	}
}

func TestShareListRejectsInactiveGrantee(t *testing.T) {
	f := ownedList(nil)
	f.GetUserByEmailFn = func(ctx context.Context, email string) (store.User, error) {
		return store.User{ID: "usr-b", Email: email, IsActive: false}, nil
	}
	svc := newTestService(f)

	_, err := svc.ShareList(context.Background(), Identity{UserID: "usr-owner"}, "lst-1", ShareListInput{
		Email:      "gone@example.com",
		Permission: "READ",
	})
	domainErr := domainErrFrom(t, err)
	if domainErr.Code != "VALIDATION_ERROR" {
		t.Fatalf("expected VALIDATION_ERROR, got %s", domainErr.Code)
	}
}

func TestShareListOverwritesPreviousGrant(t *testing.T) {
	grants := map[string]string{}
	f := ownedList(nil)
	f.GetUserByEmailFn = func(ctx context.Context, email string) (store.User, error) {
		return store.User{ID: "usr-b", Email: email, IsActive: true}, nil
	}
	f.UpsertListShareFn = func(ctx context.Context, listID, userID, permission string) (store.ListShare, error) {
		grants[listID+"/"+userID] = permission
		return store.ListShare{ID: "shr-1", ListID: listID, UserID: userID, Permission: permission}, nil
	}
	svc := newTestService(f)
	ident := Identity{UserID: "usr-owner"}

	if _, err := svc.ShareList(context.Background(), ident, "lst-1", ShareListInput{Email: "b@x.com", Permission: "WRITE"}); err != nil {
		t.Fatalf("first share failed: %v", err)
	}
	if _, err := svc.ShareList(context.Background(), ident, "lst-1", ShareListInput{Email: "b@x.com", Permission: "READ"}); err != nil {
		t.Fatalf("second share failed: %v", err)
	}

	if len(grants) != 1 {
		t.Fatalf("expected a single grant per (list,user), got %d", len(grants))
	}
	if grants["lst-1/usr-b"] != "READ" {
		t.Fatalf("expected later grant to win, got %s", grants["lst-1/usr-b"])
	}
}

func TestUnshareIsIdempotent(t *testing.T) {
	deletes := 0
	f := ownedList(nil)
	f.DeleteListShareFn = func(ctx context.Context, listID, userID string) error {
		deletes++
		return nil
	}
	svc := newTestService(f)
	ident := Identity{UserID: "usr-owner"}

	if err := svc.UnshareList(context.Background(), ident, "lst-1", "usr-nobody"); err != nil {
		t.Fatalf("revoking a non-existent share should succeed: %v", err)
	}
	if err := svc.UnshareList(context.Background(), ident, "lst-1", "usr-nobody"); err != nil {
		t.Fatalf("second revoke should succeed too: %v", err)
	}
	if deletes != 2 {
		t.Fatalf("expected 2 delete calls, got %d", deletes)
	}
}

func TestReorderRejectsMismatchedSets(t *testing.T) {
	cases := []struct {
		name      string
		submitted []string
	}{
		{"missing task", []string{"tsk-a", "tsk-b"}},
		{"stranger task", []string{"tsk-a", "tsk-b", "tsk-zz"}},
		{"duplicate task", []string{"tsk-a", "tsk-b", "tsk-b"}},
		{"empty", nil},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			reorderCalled := false
			f := ownedList(nil)
			f.ListTaskIDsFn = func(ctx context.Context, listID string) ([]string, error) {
				return []string{"tsk-a", "tsk-b", "tsk-c"}, nil
			}
			f.ReorderTasksFn = func(ctx context.Context, listID string, taskIDs []string) error {
				reorderCalled = true
				return nil
			}
			svc := newTestService(f)

			_, err := svc.ReorderTasks(context.Background(), Identity{UserID: "usr-owner"}, "lst-1", tc.submitted)
			domainErr := domainErrFrom(t, err)
			if domainErr.Code != "VALIDATION_ERROR" {
				t.Fatalf("expected VALIDATION_ERROR, got %s", domainErr.Code)
			}
			if reorderCalled {
				t.Fatal("store reorder must not run for an invalid set")
			}
		})
	}
}

func TestReorderPassesSubmittedOrder(t *testing.T) {
	var got []string
	f := ownedList(nil)
	f.ListTaskIDsFn = func(ctx context.Context, listID string) ([]string, error) {
		return []string{"tsk-a", "tsk-b", "tsk-c"}, nil
	}
	f.ReorderTasksFn = func(ctx context.Context, listID string, taskIDs []string) error {
		got = append([]string(nil), taskIDs...)
		return nil
	}
	svc := newTestService(f)

	submitted := []string{"tsk-c", "tsk-a", "tsk-b"}
	if _, err := svc.ReorderTasks(context.Background(), Identity{UserID: "usr-owner"}, "lst-1", submitted); err != nil {
		t.Fatalf("reorder failed: %v", err)
	}
	if len(got) != 3 || got[0] != "tsk-c" || got[1] != "tsk-a" || got[2] != "tsk-b" {
		t.Fatalf("expected submitted order to reach the store, got %v", got)
	}
}

func TestReorderConflictIsRetryable(t *testing.T) {
	f := ownedList(nil)
	f.ListTaskIDsFn = func(ctx context.Context, listID string) ([]string, error) {
		return []string{"tsk-a"}, nil
	}
	f.ReorderTasksFn = func(ctx context.Context, listID string, taskIDs []string) error {
		return store.ErrTaskSetChanged
	}
	svc := newTestService(f)

	_, err := svc.ReorderTasks(context.Background(), Identity{UserID: "usr-owner"}, "lst-1", []string{"tsk-a"})
	domainErr := domainErrFrom(t, err)
	if domainErr.Code != "CONFLICT" {
		t.Fatalf("expected CONFLICT, got %s", domainErr.Code)
	}
}

func TestCreateTaskAppendsToEnd(t *testing.T) {
	f := ownedList(nil)
	f.MaxTaskPositionFn = func(ctx context.Context, listID string) (int, error) {
		return 7, nil
	}
	var gotPosition int
	f.CreateTaskFn = func(ctx context.Context, listID, title, description, priority string, dueDate *time.Time, position int) (store.Task, error) {
		gotPosition = position
		return store.Task{ID: "tsk-new", ListID: listID, Position: position}, nil
	}
	svc := newTestService(f)

	if _, err := svc.CreateTask(context.Background(), Identity{UserID: "usr-owner"}, "lst-1", CreateTaskInput{Title: "buy milk"}); err != nil {
		t.Fatalf("create task failed: %v", err)
	}
	if gotPosition != 8 {
		t.Fatalf("expected position max+1=8, got %d", gotPosition)
	}

	// An explicit position is stored verbatim.
	explicit := 3
	if _, err := svc.CreateTask(context.Background(), Identity{UserID: "usr-owner"}, "lst-1", CreateTaskInput{Title: "buy eggs", Position: &explicit}); err != nil {
		t.Fatalf("create task failed: %v", err)
	}
	if gotPosition != 3 {
		t.Fatalf("expected explicit position 3, got %d", gotPosition)
	}
}

func TestTaskInHiddenListIsReportedMissing(t *testing.T) {
	f := ownedList(nil)
	f.GetTaskFn = func(ctx context.Context, id string) (store.Task, error) {
		return store.Task{ID: id, ListID: "lst-1"}, nil
	}
	svc := newTestService(f)

	_, err := svc.GetTask(context.Background(), Identity{UserID: "usr-b"}, "tsk-1")
	domainErr := domainErrFrom(t, err)
	if domainErr.Code != "NOT_FOUND" {
		t.Fatalf("expected NOT_FOUND, got %s", domainErr.Code)
	}
}

func TestCommentRules(t *testing.T) {
	share := &store.ListShare{ListID: "lst-1", UserID: "usr-b", Permission: "READ"}
	newFake := func() *fakeStore {
		f := ownedList(share)
		f.GetCommentFn = func(ctx context.Context, id string) (store.Comment, error) {
			return store.Comment{ID: id, TaskID: "tsk-1", UserID: "usr-b", ListID: "lst-1", Content: "hi"}, nil
		}
		return f
	}

	t.Run("author edits own comment", func(t *testing.T) {
		svc := newTestService(newFake())
		if _, err := svc.UpdateComment(context.Background(), Identity{UserID: "usr-b"}, "cmt-1", "edited"); err != nil {
			t.Fatalf("author edit failed: %v", err)
		}
	})

	t.Run("owner cannot edit another author's comment", func(t *testing.T) {
		svc := newTestService(newFake())
		_, err := svc.UpdateComment(context.Background(), Identity{UserID: "usr-owner"}, "cmt-1", "edited")
		domainErr := domainErrFrom(t, err)
		if domainErr.Code != "FORBIDDEN" {
			t.Fatalf("expected FORBIDDEN, got %s", domainErr.Code)
		}
	})

	t.Run("owner deletes another author's comment", func(t *testing.T) {
		svc := newTestService(newFake())
		if err := svc.DeleteComment(context.Background(), Identity{UserID: "usr-owner"}, "cmt-1"); err != nil {
			t.Fatalf("owner delete failed: %v", err)
		}
	})

	t.Run("author deletes own comment", func(t *testing.T) {
		svc := newTestService(newFake())
		if err := svc.DeleteComment(context.Background(), Identity{UserID: "usr-b"}, "cmt-1"); err != nil {
			t.Fatalf("author delete failed: %v", err)
		}
	})

	t.Run("other sharee cannot delete", func(t *testing.T) {
		f := newFake()
		f.GetListShareFn = func(ctx context.Context, listID, userID string) (store.ListShare, error) {
			return store.ListShare{ListID: listID, UserID: userID, Permission: "WRITE"}, nil
		}
		svc := newTestService(f)
		err := svc.DeleteComment(context.Background(), Identity{UserID: "usr-c"}, "cmt-1")
		domainErr := domainErrFrom(t, err)
		if domainErr.Code != "FORBIDDEN" {
			t.Fatalf("expected FORBIDDEN, got %s", domainErr.Code)
		}
	})

	t.Run("stranger learns nothing", func(t *testing.T) {
		f := newFake()
		f.GetListShareFn = func(ctx context.Context, listID, userID string) (store.ListShare, error) {
			return store.ListShare{}, sql.ErrNoRows
		}
		svc := newTestService(f)
		err := svc.DeleteComment(context.Background(), Identity{UserID: "usr-z"}, "cmt-1")
		domainErr := domainErrFrom(t, err)
		if domainErr.Code != "NOT_FOUND" {
			t.Fatalf("expected NOT_FOUND, got %s", domainErr.Code)
		}
	})
}

func hashPassword(t *testing.T, password string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	return string(hash)
}

func TestRegisterRejectsDuplicateEmail(t *testing.T) {
	f := &fakeStore{}
	f.GetUserByEmailFn = func(ctx context.Context, email string) (store.User, error) {
		return store.User{ID: "usr-1", Email: email, IsActive: true}, nil
	}
	svc := newTestService(f)

	_, err := svc.Register(context.Background(), "Alice", "alice@example.com", "longenough")
	domainErr := domainErrFrom(t, err)
	if domainErr.Code != "CONFLICT" {
		t.Fatalf("expected CONFLICT, got %s", domainErr.Code)
	}
}

func TestRegisterValidation(t *testing.T) {
	svc := newTestService(&fakeStore{})

	cases := []struct {
		name, userName, email, password string
	}{
		{"empty name", "", "a@b.com", "longenough"},
		{"bad email", "Alice", "not-an-email", "longenough"},
		{"short password", "Alice", "a@b.com", "short"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Register(context.Background(), tc.userName, tc.email, tc.password)
			domainErr := domainErrFrom(t, err)
			if domainErr.Code != "VALIDATION_ERROR" {
				t.Fatalf("expected VALIDATION_ERROR, got %s", domainErr.Code)
			}
		})
	}
}

func TestLoginReplacesStoredRefreshToken(t *testing.T) {
	hash := hashPassword(t, "correct-horse")
	replaced := 0
	f := &fakeStore{}
	f.GetUserByEmailFn = func(ctx context.Context, email string) (store.User, error) {
		return store.User{ID: "usr-1", Email: email, PasswordHash: hash, IsActive: true}, nil
	}
	f.ReplaceRefreshTokenFn = func(ctx context.Context, userID, token string, expiresAt time.Time) error {
		replaced++
		return nil
	}
	svc := newTestService(f)

	session, err := svc.Login(context.Background(), "alice@example.com", "correct-horse")
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if session.AccessToken == "" || session.RefreshToken == "" {
		t.Fatal("expected both tokens")
	}
	if replaced != 1 {
		t.Fatalf("expected refresh token replacement, got %d calls", replaced)
	}
}

func TestLoginRejectsBadPasswordAndInactive(t *testing.T) {
	hash := hashPassword(t, "correct-horse")

	t.Run("wrong password", func(t *testing.T) {
		f := &fakeStore{}
		f.GetUserByEmailFn = func(ctx context.Context, email string) (store.User, error) {
			return store.User{ID: "usr-1", PasswordHash: hash, IsActive: true}, nil
		}
		svc := newTestService(f)
		_, err := svc.Login(context.Background(), "alice@example.com", "wrong")
		domainErr := domainErrFrom(t, err)
		if domainErr.Code != "UNAUTHORIZED" {
			t.Fatalf("expected UNAUTHORIZED, got %s", domainErr.Code)
		}
	})

	t.Run("inactive user", func(t *testing.T) {
		f := &fakeStore{}
		f.GetUserByEmailFn = func(ctx context.Context, email string) (store.User, error) {
			return store.User{ID: "usr-1", PasswordHash: hash, IsActive: false}, nil
		}
		svc := newTestService(f)
		_, err := svc.Login(context.Background(), "alice@example.com", "correct-horse")
		domainErr := domainErrFrom(t, err)
		if domainErr.Code != "UNAUTHORIZED" {
			t.Fatalf("expected UNAUTHORIZED, got %s", domainErr.Code)
		}
	})

	t.Run("unknown email", func(t *testing.T) {
		svc := newTestService(&fakeStore{})
		_, err := svc.Login(context.Background(), "nobody@example.com", "whatever")
		domainErr := domainErrFrom(t, err)
		if domainErr.Code != "UNAUTHORIZED" {
			t.Fatalf("expected UNAUTHORIZED, got %s", domainErr.Code)
		}
	})
}

// tokenTable is a mutex-guarded refresh token row used to exercise the
// compare-and-swap semantics of rotation.
type tokenTable struct {
	mu    sync.Mutex
	token string
}

func (tt *tokenTable) get(token string) (store.RefreshToken, error) {
	tt.mu.Lock()
	defer tt.mu.Unlock()
	if tt.token != token {
		return store.RefreshToken{}, sql.ErrNoRows
	}
	return store.RefreshToken{ID: "rft-1", UserID: "usr-1", Token: token, ExpiresAt: time.Now().Add(time.Hour)}, nil
}

func (tt *tokenTable) rotate(oldToken, newToken string) error {
	tt.mu.Lock()
	defer tt.mu.Unlock()
	if tt.token != oldToken {
		return sql.ErrNoRows
	}
	tt.token = newToken
	return nil
}

func refreshFixture(t *testing.T, tt *tokenTable) (*Service, string) {
	t.Helper()
	f := &fakeStore{}
	f.GetRefreshTokenFn = func(ctx context.Context, token string) (store.RefreshToken, error) {
		return tt.get(token)
	}
	f.RotateRefreshTokenFn = func(ctx context.Context, oldToken, newToken string, expiresAt time.Time) error {
		return tt.rotate(oldToken, newToken)
	}
	f.GetUserByIDFn = func(ctx context.Context, id string) (store.User, error) {
		return store.User{ID: id, Email: "alice@example.com", IsActive: true}, nil
	}
	f.ReplaceRefreshTokenFn = func(ctx context.Context, userID, token string, expiresAt time.Time) error {
		tt.mu.Lock()
		tt.token = token
		tt.mu.Unlock()
		return nil
	}
	svc := newTestService(f)

	session, err := svc.issueSession(context.Background(), store.User{ID: "usr-1", Email: "alice@example.com", IsActive: true})
	if err != nil {
		t.Fatalf("issue session: %v", err)
	}
	return svc, session.RefreshToken
}

func TestRefreshRotatesAndInvalidatesOldToken(t *testing.T) {
	tt := &tokenTable{}
	svc, refreshToken := refreshFixture(t, tt)

	accessToken, err := svc.RefreshSession(context.Background(), refreshToken)
	if err != nil {
		t.Fatalf("refresh failed: %v", err)
	}
	if accessToken == "" {
		t.Fatal("expected a new access token")
	}

	// The spent token must never work again.
	_, err = svc.RefreshSession(context.Background(), refreshToken)
	domainErr := domainErrFrom(t, err)
	if domainErr.Code != "REFRESH_INVALID" {
		t.Fatalf("expected REFRESH_INVALID on reuse, got %s", domainErr.Code)
	}
}

func TestConcurrentRefreshAdmitsOneWinner(t *testing.T) {
	tt := &tokenTable{}
	svc, refreshToken := refreshFixture(t, tt)

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = svc.RefreshSession(context.Background(), refreshToken)
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range results {
		if err == nil {
			winners++
			continue
		}
		domainErr := domainErrFrom(t, err)
		if domainErr.Code != "REFRESH_INVALID" {
			t.Fatalf("loser should see REFRESH_INVALID, got %s", domainErr.Code)
		}
	}
	if winners != 1 {
		t.Fatalf("expected exactly one winner, got %d", winners)
	}
}

func TestRefreshRejectsAccessToken(t *testing.T) {
	tt := &tokenTable{}
	svc, _ := refreshFixture(t, tt)

	session, err := svc.issueSession(context.Background(), store.User{ID: "usr-1", Email: "alice@example.com", IsActive: true})
	if err != nil {
		t.Fatalf("issue session: %v", err)
	}

	_, err = svc.RefreshSession(context.Background(), session.AccessToken)
	domainErr := domainErrFrom(t, err)
	if domainErr.Code != "REFRESH_INVALID" {
		t.Fatalf("expected REFRESH_INVALID, got %s", domainErr.Code)
	}
}

func TestRefreshRejectsExpiredStoredToken(t *testing.T) {
	tt := &tokenTable{}
	svc, refreshToken := refreshFixture(t, tt)

	// Replace the lookup with one whose stored row is already expired.
	f := &fakeStore{}
	f.GetRefreshTokenFn = func(ctx context.Context, token string) (store.RefreshToken, error) {
		return store.RefreshToken{ID: "rft-1", UserID: "usr-1", Token: token, ExpiresAt: time.Now().Add(-time.Minute)}, nil
	}
	svc.store = f

	_, err := svc.RefreshSession(context.Background(), refreshToken)
	domainErr := domainErrFrom(t, err)
	if domainErr.Code != "REFRESH_INVALID" {
		t.Fatalf("expected REFRESH_INVALID, got %s", domainErr.Code)
	}
}

// fakeRevoker is an in-memory revocation list.
type fakeRevoker struct {
	mu      sync.Mutex
	revoked map[string]bool
}

func (f *fakeRevoker) Revoke(ctx context.Context, jti string, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.revoked == nil {
		f.revoked = map[string]bool{}
	}
	f.revoked[jti] = true
	return nil
}

func (f *fakeRevoker) IsRevoked(ctx context.Context, jti string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.revoked[jti], nil
}

func TestLogoutRevokesAccessToken(t *testing.T) {
	revoker := &fakeRevoker{}
	f := &fakeStore{}
	svc := NewWithRevocationStore(testConfig(), f, nil, revoker)

	session, err := svc.issueSession(context.Background(), store.User{ID: "usr-1", Email: "alice@example.com", IsActive: true})
	if err != nil {
		t.Fatalf("issue session: %v", err)
	}

	ident, err := svc.SessionFromToken(context.Background(), session.AccessToken)
	if err != nil {
		t.Fatalf("session from token: %v", err)
	}

	if err := svc.Logout(context.Background(), ident); err != nil {
		t.Fatalf("logout failed: %v", err)
	}

	if _, err := svc.SessionFromToken(context.Background(), session.AccessToken); err == nil {
		t.Fatal("revoked access token must be rejected")
	}
}

func TestSessionFromTokenRejectsRefreshToken(t *testing.T) {
	svc := newTestService(&fakeStore{})

	session, err := svc.issueSession(context.Background(), store.User{ID: "usr-1", Email: "alice@example.com", IsActive: true})
	if err != nil {
		t.Fatalf("issue session: %v", err)
	}

	if _, err := svc.SessionFromToken(context.Background(), session.RefreshToken); err == nil {
		t.Fatal("refresh token must not grant API access")
	}
}
