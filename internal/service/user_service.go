package service

import (
	"errors"
	"strings"

	"github.com/gallerydesk/internal/db"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

var (
	ErrAuthRequired       = errors.New("authentication required")
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrUserExists         = errors.New("user already exists")
	ErrUserInputInvalid   = errors.New("username and password are required")
)

// Identity is the logged-in editor; it supplies the commit authorship.
type Identity struct {
	UserID   uint
	Username string
	Name     string
	Email    string
}

// Anonymous reports whether no user is logged in.
func (i Identity) Anonymous() bool {
	return i.UserID == 0 && strings.TrimSpace(i.Username) == ""
}

// UserService manages dashboard accounts.
type UserService struct {
	db *gorm.DB
}

// NewUserService creates a UserService.
func NewUserService(gdb *gorm.DB) *UserService {
	return &UserService{db: gdb}
}

// UserInput describes a new account.
type UserInput struct {
	Username string
	Password string
	Email    string
	FullName string
}

// Create inserts a new account with a bcrypt password hash.
func (s *UserService) Create(input UserInput) (*db.User, error) {
	username := strings.TrimSpace(input.Username)
	if username == "" || strings.TrimSpace(input.Password) == "" {
		return nil, ErrUserInputInvalid
	}

	var count int64
	if err := s.db.Model(&db.User{}).Where("username = ?", username).Count(&count).Error; err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, ErrUserExists
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	user := db.User{
		Username: username,
		Password: string(hashed),
		Email:    strings.TrimSpace(input.Email),
		FullName: strings.TrimSpace(input.FullName),
	}
	if err := s.db.Create(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// Authenticate checks a username/password pair.
func (s *UserService) Authenticate(username, password string) (*db.User, error) {
	var user db.User
	if err := s.db.Where("username = ?", strings.TrimSpace(username)).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return &user, nil
}

// Identity resolves the identity for a stored user id.
func (s *UserService) Identity(userID uint) (Identity, error) {
	if userID == 0 {
		return Identity{}, ErrAuthRequired
	}
	var user db.User
	if err := s.db.First(&user, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Identity{}, ErrAuthRequired
		}
		return Identity{}, err
	}
	return IdentityFromUser(user), nil
}

// IdentityFromUser maps an account to its commit identity.
func IdentityFromUser(user db.User) Identity {
	email := strings.TrimSpace(user.Email)
	if email == "" {
		email = user.Username + "@users.noreply.gallerydesk"
	}
	return Identity{
		UserID:   user.ID,
		Username: user.Username,
		Name:     user.DisplayName(),
		Email:    email,
	}
}
