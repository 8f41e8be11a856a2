package identity

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/abdobody2040/medilablis2/internal/platform/apperror"
	"github.com/abdobody2040/medilablis2/internal/platform/auth"
)

type mockUserRepo struct {
	users map[uuid.UUID]*User
}

func newMockUserRepo() *mockUserRepo {
	return &mockUserRepo{users: make(map[uuid.UUID]*User)}
}

func (m *mockUserRepo) Create(_ context.Context, u *User) error {
	for _, existing := range m.users {
		if existing.Username == u.Username {
			return apperror.Conflict("user with this username already exists")
		}
		if existing.Email == u.Email {
			return apperror.Conflict("user with this email already exists")
		}
	}
	u.ID = uuid.New()
	u.CreatedAt = time.Now()
	u.UpdatedAt = u.CreatedAt
	cp := *u
	m.users[u.ID] = &cp
	return nil
}

func (m *mockUserRepo) GetByID(_ context.Context, id uuid.UUID) (*User, error) {
	u, ok := m.users[id]
	if !ok {
		return nil, apperror.NotFound("user not found")
	}
	cp := *u
	return &cp, nil
}

func (m *mockUserRepo) GetByUsername(_ context.Context, username string) (*User, error) {
	for _, u := range m.users {
		if u.Username == username {
			cp := *u
			return &cp, nil
		}
	}
	return nil, apperror.NotFound("user not found")
}

func (m *mockUserRepo) Update(_ context.Context, u *User) error {
	cp := *u
	m.users[u.ID] = &cp
	return nil
}

func (m *mockUserRepo) TouchLogin(_ context.Context, id uuid.UUID, at time.Time) error {
	m.users[id].LastLoginAt = &at
	return nil
}

func (m *mockUserRepo) List(_ context.Context, limit, offset int) ([]*User, int, error) {
	var out []*User
	for _, u := range m.users {
		cp := *u
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	total := len(out)
	if offset > len(out) {
		offset = len(out)
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, total, nil
}

func (m *mockUserRepo) Count(context.Context) (int, error) {
	return len(m.users), nil
}

func newTestService(t *testing.T) (*Service, *mockUserRepo, *auth.TokenManager) {
	t.Helper()
	repo := newMockUserRepo()
	tokens := auth.NewTokenManager([]byte("0123456789abcdef0123456789abcdef"), time.Hour)
	svc := NewService(repo, tokens, zerolog.Nop())
	svc.hash = func(p string) (string, error) {
		b, err := bcrypt.GenerateFromPassword([]byte(p), bcrypt.MinCost)
		return string(b), err
	}
	return svc, repo, tokens
}

func registerInput(username string, role auth.Role) RegisterInput {
	return RegisterInput{
		Username:  username,
		Email:     username + "@lab.example",
		Password:  "s3cret-pass",
		FirstName: "Test",
		LastName:  "User",
		Role:      role,
	}
}

func TestRegister_BootstrapBecomesAdmin(t *testing.T) {
	svc, _, _ := newTestService(t)

	u, err := svc.Register(context.Background(), registerInput("first", auth.RoleTechnician), nil)
	require.NoError(t, err)
	assert.Equal(t, auth.RoleAdmin, u.Role)
	assert.True(t, u.IsActive)
	assert.NotEqual(t, "s3cret-pass", u.PasswordHash)

	_, err = svc.Register(context.Background(), registerInput("second", auth.RoleTechnician), nil)
	assert.Equal(t, apperror.KindUnauthorized, apperror.KindOf(err))
}

func TestRegister_RequiresUserManage(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	_, err := svc.Register(ctx, registerInput("admin", ""), nil)
	require.NoError(t, err)

	tech := &auth.Principal{UserID: uuid.NewString(), Role: auth.RoleTechnician}
	_, err = svc.Register(ctx, registerInput("x", auth.RoleDoctor), tech)
	assert.Equal(t, apperror.KindForbidden, apperror.KindOf(err))

	admin := &auth.Principal{UserID: uuid.NewString(), Role: auth.RoleAdmin}
	u, err := svc.Register(ctx, registerInput("doc", auth.RoleDoctor), admin)
	require.NoError(t, err)
	assert.Equal(t, auth.RoleDoctor, u.Role)

	_, err = svc.Register(ctx, registerInput("doc", auth.RoleDoctor), admin)
	assert.Equal(t, apperror.KindConflict, apperror.KindOf(err))
}

func TestCreateUser_Validation(t *testing.T) {
	svc, _, _ := newTestService(t)
	_, err := svc.CreateUser(context.Background(), RegisterInput{Email: "nope", Password: "short", Role: "chef"})
	require.Error(t, err)

	var ae *apperror.Error
	require.ErrorAs(t, err, &ae)
	fields := map[string]bool{}
	for _, f := range ae.Fields {
		fields[f.Field] = true
	}
	for _, want := range []string{"username", "email", "password", "firstName", "lastName", "role"} {
		assert.True(t, fields[want], "missing field error for %s", want)
	}
}

func TestLogin(t *testing.T) {
	svc, repo, tokens := newTestService(t)
	ctx := context.Background()
	u, err := svc.CreateUser(ctx, registerInput("tech", auth.RoleTechnician))
	require.NoError(t, err)

	res, err := svc.Login(ctx, LoginInput{Username: "tech", Password: "s3cret-pass"})
	require.NoError(t, err)
	assert.Equal(t, u.ID, res.User.ID)
	assert.NotNil(t, res.User.LastLoginAt)
	assert.NotNil(t, repo.users[u.ID].LastLoginAt)

	p, err := tokens.Verify(res.Token)
	require.NoError(t, err)
	assert.Equal(t, u.ID.String(), p.UserID)
	assert.Equal(t, auth.RoleTechnician, p.Role)
}

func TestLogin_Failures(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	u, err := svc.CreateUser(ctx, registerInput("tech", auth.RoleTechnician))
	require.NoError(t, err)

	_, err = svc.Login(ctx, LoginInput{Username: "tech"})
	assert.Equal(t, apperror.KindValidation, apperror.KindOf(err))

	_, err = svc.Login(ctx, LoginInput{Username: "ghost", Password: "whatever1"})
	assert.Equal(t, apperror.KindUnauthorized, apperror.KindOf(err))

	_, err = svc.Login(ctx, LoginInput{Username: "tech", Password: "wrong-pass"})
	assert.Equal(t, apperror.KindUnauthorized, apperror.KindOf(err))

	_, err = svc.UpdateUser(ctx, u.ID, UserPatch{IsActive: boolPtr(false)}, nil)
	require.NoError(t, err)
	_, err = svc.Login(ctx, LoginInput{Username: "tech", Password: "s3cret-pass"})
	assert.Equal(t, apperror.KindUnauthorized, apperror.KindOf(err))
}

func boolPtr(b bool) *bool { return &b }

func TestUpdateUser(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	u, err := svc.CreateUser(ctx, registerInput("tech", auth.RoleTechnician))
	require.NoError(t, err)

	role := auth.RoleLabManager
	got, err := svc.UpdateUser(ctx, u.ID, UserPatch{Role: &role}, nil)
	require.NoError(t, err)
	assert.Equal(t, auth.RoleLabManager, got.Role)
	assert.Equal(t, "tech", got.Username)

	bad := auth.Role("chef")
	_, err = svc.UpdateUser(ctx, u.ID, UserPatch{Role: &bad}, nil)
	assert.Equal(t, apperror.KindValidation, apperror.KindOf(err))

	_, err = svc.UpdateUser(ctx, u.ID, UserPatch{IsActive: boolPtr(false)}, &u.ID)
	assert.Equal(t, apperror.KindValidation, apperror.KindOf(err))

	_, err = svc.UpdateUser(ctx, uuid.New(), UserPatch{}, nil)
	assert.Equal(t, apperror.KindNotFound, apperror.KindOf(err))
}

func TestMe(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	u, err := svc.CreateUser(ctx, registerInput("tech", auth.RoleTechnician))
	require.NoError(t, err)

	got, err := svc.Me(ctx, u.Principal())
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	dev, err := svc.Me(ctx, auth.Principal{UserID: "dev-user", Username: "dev", Role: auth.RoleAdmin})
	require.NoError(t, err)
	assert.Equal(t, "dev", dev.Username)
	assert.Equal(t, uuid.Nil, dev.ID)
}
