package books

import "time"

type CreateBookRequest struct {
	Name        string  `json:"name" binding:"required"`
	Author      string  `json:"author" binding:"required"`
	ISBN        *string `json:"isbn,omitempty"`
	Description *string `json:"description,omitempty"`
	Publisher   *string `json:"publisher,omitempty"`
	PublishYear *int    `json:"publish_year,omitempty"`
}

type UpdateBookRequest struct {
	Name        string  `json:"name" binding:"required"`
	Author      string  `json:"author" binding:"required"`
	ISBN        *string `json:"isbn,omitempty"`
	Description *string `json:"description,omitempty"`
	Publisher   *string `json:"publisher,omitempty"`
	PublishYear *int    `json:"publish_year,omitempty"`
}

type BookResponse struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Author      string    `json:"author"`
	ISBN        *string   `json:"isbn,omitempty"`
	Description *string   `json:"description,omitempty"`
	Publisher   *string   `json:"publisher,omitempty"`
	PublishYear *int      `json:"publish_year,omitempty"`
	Available   bool      `json:"available"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func buildBookResponse(b *Book) BookResponse {
	return BookResponse{
		ID:          b.ID,
		Name:        b.Name,
		Author:      b.Author,
		ISBN:        b.ISBN,
		Description: b.Description,
		Publisher:   b.Publisher,
		PublishYear: b.PublishYear,
		Available:   b.Available,
		CreatedAt:   b.CreatedAt,
		UpdatedAt:   b.UpdatedAt,
	}
}
