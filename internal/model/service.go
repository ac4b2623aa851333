package model

import "time"

// Service is a tenant registration. Hosts connect with HostToken, clients
// with ClientToken and guests with the live public code.
type Service struct {
	HostToken          string    `json:"hostToken" bson:"_id" gorm:"primaryKey;type:varchar(36)"`
	ClientToken        string    `json:"clientToken" bson:"clientToken" gorm:"uniqueIndex;type:varchar(36);not null"`
	Title              string    `json:"title" bson:"title" gorm:"uniqueIndex;size:32;not null"`
	AllowPublicCode    bool      `json:"allowPublicCode" bson:"allowPublicCode"`
	AllowMultipleHosts bool      `json:"allowMultipleHosts" bson:"allowMultipleHosts"`
	PublicCode         *string   `json:"publicCode,omitempty" bson:"publicCode,omitempty" gorm:"uniqueIndex;size:8"`
	CreatedOn          time.Time `json:"createdOn" bson:"createdOn"`
}

// Code returns the embedded public code, or "" when none is live.
func (s *Service) Code() string {
	if s.PublicCode == nil {
		return ""
	}
	return *s.PublicCode
}

// ServiceView is the admin representation of a service
type ServiceView struct {
	*Service
	VisitorCount int64 `json:"visitorCount"`
}

// ServiceRequest is the body for creating or editing a service
type ServiceRequest struct {
	Title              string `json:"title"`
	AllowPublicCode    bool   `json:"allowPublicCode"`
	AllowMultipleHosts bool   `json:"allowMultipleHosts"`
}
