package models

import "time"

// File is the metadata of an asset held by the remote object store.
type File struct {
	ID         string    `json:"id"`
	PublicID   string    `json:"publicId"`
	URL        string    `json:"url"`
	Folder     string    `json:"folder"`
	MimeType   string    `json:"mimeType"`
	SizeBytes  int64     `json:"size"`
	UploadedBy string    `json:"uploadedBy"`
	CreatedAt  time.Time `json:"createdAt"`
}

type Category struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	IconFileID string    `json:"-"`
	Icon       *File     `json:"icon,omitempty"`
	AuthorID   string    `json:"authorId"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

type Tier string

const (
	TierBasic    Tier = "basic"
	TierStandard Tier = "standard"
	TierPremium  Tier = "premium"
)

var Tiers = []Tier{TierBasic, TierStandard, TierPremium}

func (t Tier) Valid() bool {
	return t == TierBasic || t == TierStandard || t == TierPremium
}

type Service struct {
	ID          string                   `json:"id"`
	Title       string                   `json:"title"`
	Description string                   `json:"description"`
	CategoryID  string                   `json:"categoryId"`
	IconFileID  string                   `json:"-"`
	Icon        *File                    `json:"icon,omitempty"`
	AuthorID    string                   `json:"authorId"`
	Packages    map[Tier]*ServicePackage `json:"packages"`
	CreatedAt   time.Time                `json:"createdAt"`
	UpdatedAt   time.Time                `json:"updatedAt"`
}

type ServicePackage struct {
	Tier         Tier   `json:"tier"`
	Title        string `json:"title"`
	PriceCents   int64  `json:"priceCents"`
	DeliveryDays int    `json:"deliveryDays"`
	Revisions    int    `json:"revisions"`
}

type Project struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	AuthorID    string    `json:"authorId"`
	Files       []*File   `json:"files"`
	CreatedAt   time.Time `json:"createdAt"`
}

type Order struct {
	ID        string    `json:"id"`
	ServiceID string    `json:"serviceId"`
	Tier      Tier      `json:"tier"`
	BuyerID   string    `json:"buyerId"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}
