package model

import "time"

// Visitor records one guest authorization, for counting only.
type Visitor struct {
	ID        string    `json:"id" bson:"_id" gorm:"primaryKey;type:varchar(36)"`
	ServiceID string    `json:"serviceId" bson:"serviceId" gorm:"index;type:varchar(36);not null"`
	Code      string    `json:"code" bson:"code" gorm:"size:8"`
	CreatedOn time.Time `json:"createdOn" bson:"createdOn"`
}
