package books

import "time"

// Book は books テーブルの1行を表す
type Book struct {
	ID          int64     `db:"id"`
	Name        string    `db:"name"`
	Author      string    `db:"author"`
	ISBN        *string   `db:"isbn"`
	Description *string   `db:"description"`
	Publisher   *string   `db:"publisher"`
	PublishYear *int      `db:"publish_year"`
	Available   bool      `db:"available"`
	Active      bool      `db:"active"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}
