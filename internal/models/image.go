package models

import "time"

// Image represents the metadata record of an uploaded photo.
type Image struct {
	ID          string    `json:"id" msgpack:"id"`
	Owner       string    `json:"owner" msgpack:"owner"`
	Name        string    `json:"name" msgpack:"name"`
	Key         string    `json:"key" msgpack:"key"` // object-store key, "<owner>/<name>"
	URL         string    `json:"url" msgpack:"url"`
	Size        int64     `json:"size" msgpack:"size"`
	ContentType string    `json:"contentType,omitempty" msgpack:"contentType,omitempty"`
	UploadedAt  time.Time `json:"uploadedAt" msgpack:"uploadedAt"`
}

// ObjectKey returns the storage key for an owner's file name.
func ObjectKey(owner, name string) string {
	return owner + "/" + name
}
