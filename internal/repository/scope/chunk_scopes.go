package scope

import "gorm.io/gorm"

// ExcludeSoftDelete is needed on raw Table() queries, where gorm does not add
// the deleted_at filter by itself.
func ExcludeSoftDelete(db *gorm.DB) *gorm.DB {
	return db.Where("deleted_at IS NULL")
}

// OrderBySimilarity ranks best first and keeps document order within ties.
func OrderBySimilarity(db *gorm.DB) *gorm.DB {
	return db.Order("similarity DESC").Order("chunk_index ASC")
}
