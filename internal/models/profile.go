package models

import "time"

// Profile is the sender's identity, exposed to templates as variables.
type Profile struct {
	ActorID   string    `gorm:"primaryKey;column:actor_id" json:"actor_id"`
	FullName  string    `gorm:"column:full_name" json:"prenom_nom"`
	Phone     string    `gorm:"column:phone" json:"telephone"`
	LinkedIn  string    `gorm:"column:linkedin" json:"linkedin"`
	School    string    `gorm:"column:school" json:"ecole"`
	Degree    string    `gorm:"column:degree" json:"formation"`
	DefaultCV string    `gorm:"column:default_cv" json:"default_cv,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName sets the GORM table.
func (Profile) TableName() string { return "user_profiles" }

// Variables returns the template variables the profile provides.
func (p *Profile) Variables() map[string]string {
	if p == nil {
		return map[string]string{}
	}
	return map[string]string{
		"prenom_nom": p.FullName,
		"telephone":  p.Phone,
		"linkedin":   p.LinkedIn,
		"ecole":      p.School,
		"formation":  p.Degree,
	}
}

// Setting is a free-form key/value pair.
type Setting struct {
	Key       string    `gorm:"primaryKey;column:key" json:"key"`
	Value     string    `gorm:"column:value" json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName sets the GORM table.
func (Setting) TableName() string { return "app_settings" }
