package model

import "time"

// Session is the live join scope of a service while a host is connected.
// A service has at most one session at a time.
type Session struct {
	ID         string    `json:"id" bson:"_id" gorm:"primaryKey;type:varchar(36)"`
	ServiceID  string    `json:"serviceId" bson:"serviceId" gorm:"uniqueIndex;type:varchar(36);not null"`
	Code       string    `json:"code" bson:"code" gorm:"uniqueIndex;size:8;not null"`
	GroupKey   string    `json:"groupKey" bson:"groupKey" gorm:"size:64"`
	GuestCount int       `json:"guestCount" bson:"guestCount"`
	CreatedOn  time.Time `json:"createdOn" bson:"createdOn"`
}

// Scope identifies the groups a connection binds to: the sanitized key
// plus the code that was live when the connection authorized.
type Scope struct {
	ServiceID string `json:"serviceId"`
	Key       string `json:"key"`
	Code      string `json:"code"`
}

// LiveView is the diagnostic snapshot served for a connected service
type LiveView struct {
	Scope   *Scope   `json:"scope"`
	Host    string   `json:"host,omitempty"`
	Hosts   []string `json:"hosts"`
	Clients []string `json:"clients"`
	Guests  []string `json:"guests"`
}
