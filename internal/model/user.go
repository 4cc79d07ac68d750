package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Role is the authorization level of a user.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Plan is the subscription tier of a user.
type Plan string

const (
	PlanFree    Plan = "free"
	PlanPremium Plan = "premium"
)

// DefaultProfilePic is the avatar assigned to new accounts.
const DefaultProfilePic = "https://res.cloudinary.com/demo/image/upload/default-avatar.png"

// MaxBioLength bounds the profile bio.
const MaxBioLength = 200

// User is a registered principal together with its profile.
type User struct {
	ID            uuid.UUID  `json:"id" gorm:"type:char(36);primaryKey"`
	Username      string     `json:"username" gorm:"uniqueIndex;size:100;not null"`
	Email         string     `json:"email" gorm:"uniqueIndex;size:255;not null"`
	PasswordHash  string     `json:"-" gorm:"size:255;not null"` // Never expose in JSON
	Role          Role       `json:"role" gorm:"size:20;not null;default:user"`
	Plan          Plan       `json:"plan" gorm:"size:20;not null;default:free"`
	PlanExpiresAt *time.Time `json:"planExpiresAt,omitempty"`
	RefreshToken  *string    `json:"-" gorm:"type:text"`

	Bio        string `json:"bio,omitempty" gorm:"size:200"`
	Phone      string `json:"phone,omitempty" gorm:"size:32"`
	Location   string `json:"location,omitempty" gorm:"size:255"`
	Gender     string `json:"gender,omitempty" gorm:"size:10"`
	ProfilePic string `json:"profilePic" gorm:"size:512"`
	CoverImage string `json:"coverImage,omitempty" gorm:"size:512"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// BeforeCreate assigns the ID and fills defaults before the first insert.
func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	if u.Role == "" {
		u.Role = RoleUser
	}
	if u.Plan == "" {
		u.Plan = PlanFree
	}
	if u.ProfilePic == "" {
		u.ProfilePic = DefaultProfilePic
	}
	return nil
}

// BeforeSave normalizes identity fields on every struct write.
func (u *User) BeforeSave(tx *gorm.DB) error {
	u.Normalize()
	return nil
}

// Normalize trims the username and email and lowercases the email.
func (u *User) Normalize() {
	u.Username = strings.TrimSpace(u.Username)
	u.Email = NormalizeEmail(u.Email)
}

// NormalizeEmail returns the canonical stored form of an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Validate checks the enum and length constraints of the record.
func (u *User) Validate() error {
	if !u.Role.Valid() {
		return fmt.Errorf("invalid role %q", u.Role)
	}
	if !u.Plan.Valid() {
		return fmt.Errorf("invalid plan %q", u.Plan)
	}
	return validateProfile(u.Gender, u.Bio)
}

// HasRefreshToken reports whether the user currently holds a refresh token.
func (u *User) HasRefreshToken() bool {
	return u.RefreshToken != nil && *u.RefreshToken != ""
}

// Valid reports whether r is a known role. The empty role is accepted and
// resolved to RoleUser on create.
func (r Role) Valid() bool {
	return r == "" || r == RoleUser || r == RoleAdmin
}

// Valid reports whether p is a known plan.
func (p Plan) Valid() bool {
	return p == "" || p == PlanFree || p == PlanPremium
}

func validateProfile(gender, bio string) error {
	switch gender {
	case "", "male", "female", "other":
	default:
		return fmt.Errorf("invalid gender %q", gender)
	}
	if len([]rune(bio)) > MaxBioLength {
		return fmt.Errorf("bio must be at most %d characters", MaxBioLength)
	}
	return nil
}

// UserPatch is a partial update of a User. Nil fields are left untouched.
type UserPatch struct {
	PasswordHash *string
	RefreshToken *string

	// ClearRefreshToken writes NULL to the refresh token column and wins over RefreshToken.
	ClearRefreshToken bool

	Plan          *Plan
	PlanExpiresAt *time.Time

	Bio        *string
	Phone      *string
	Location   *string
	Gender     *string
	ProfilePic *string
	CoverImage *string
}

// Validate checks the patched values that carry constraints.
func (p UserPatch) Validate() error {
	if p.Plan != nil && (*p.Plan == "" || !p.Plan.Valid()) {
		return fmt.Errorf("invalid plan %q", *p.Plan)
	}
	var gender, bio string
	if p.Gender != nil {
		gender = *p.Gender
	}
	if p.Bio != nil {
		bio = strings.TrimSpace(*p.Bio)
	}
	return validateProfile(gender, bio)
}

// Columns converts the patch into a gorm column map.
func (p UserPatch) Columns() map[string]interface{} {
	cols := map[string]interface{}{}
	if p.PasswordHash != nil {
		cols["password_hash"] = *p.PasswordHash
	}
	if p.ClearRefreshToken {
		cols["refresh_token"] = nil
	} else if p.RefreshToken != nil {
		cols["refresh_token"] = *p.RefreshToken
	}
	if p.Plan != nil {
		cols["plan"] = *p.Plan
	}
	if p.PlanExpiresAt != nil {
		cols["plan_expires_at"] = *p.PlanExpiresAt
	}
	trimmed := map[string]*string{
		"bio":         p.Bio,
		"phone":       p.Phone,
		"location":    p.Location,
		"gender":      p.Gender,
		"profile_pic": p.ProfilePic,
		"cover_image": p.CoverImage,
	}
	for col, v := range trimmed {
		if v != nil {
			cols[col] = strings.TrimSpace(*v)
		}
	}
	return cols
}

// IsEmpty reports whether the patch changes nothing.
func (p UserPatch) IsEmpty() bool {
	return len(p.Columns()) == 0
}
