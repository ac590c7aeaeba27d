package models

import (
	"strings"
	"time"
)

type UserRole string

const (
	RolePassenger UserRole = "passenger"
	RoleDriver    UserRole = "driver"
	RoleAdmin     UserRole = "admin"
)

type User struct {
	ID        uint      `json:"id" gorm:"primaryKey;column:id;autoIncrement"`
	FirstName string    `json:"firstName" gorm:"column:first_name;not null;type:varchar(255)"`
	LastName  string    `json:"lastName" gorm:"column:last_name;not null;type:varchar(255)"`
	Phone     string    `json:"phone" gorm:"column:phone;type:varchar(20);index"`
	Email     string    `json:"email" gorm:"column:email;type:varchar(255)"`
	Role      UserRole  `json:"role" gorm:"column:role;default:'passenger';type:varchar(20);index"`
	FCMToken  string    `json:"fcmToken" gorm:"column:fcm_token;type:text"`
	Language  string    `json:"language" gorm:"column:language;default:'ru';type:varchar(5)"`
	Timezone  string    `json:"timezone" gorm:"column:timezone;type:varchar(64)"`
	CreatedAt time.Time `json:"created_at" gorm:"column:created_at;autoCreateTime;type:timestamp with time zone"`
	UpdatedAt time.Time `json:"updated_at" gorm:"column:updated_at;autoUpdateTime;type:timestamp with time zone"`
}

// UserProfileUpdate - изменяемые поля профиля, nil означает "не менять"
type UserProfileUpdate struct {
	FirstName *string `json:"firstName"`
	LastName  *string `json:"lastName"`
	Phone     *string `json:"phone"`
	Email     *string `json:"email"`
	Language  *string `json:"language"`
	Timezone  *string `json:"timezone"`
}

// FullName возвращает имя для текстов уведомлений
func (u *User) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}
