package repository

import "gorm.io/gorm"

// RepositoryFactory creates and manages all repositories
type RepositoryFactory struct {
	db          *gorm.DB
	pointRepo   PointRepository
	sampleRepo  SampleRepository
	offlineRepo OfflineRepository
}

// NewRepositoryFactory creates a new repository factory
func NewRepositoryFactory(db *gorm.DB) *RepositoryFactory {
	return &RepositoryFactory{
		db: db,
	}
}

// Point returns the monitored point repository
func (f *RepositoryFactory) Point() PointRepository {
	if f.pointRepo == nil {
		f.pointRepo = NewPointRepository(f.db)
	}
	return f.pointRepo
}

// Sample returns the acquisition sample repository
func (f *RepositoryFactory) Sample() SampleRepository {
	if f.sampleRepo == nil {
		f.sampleRepo = NewSampleRepository(f.db)
	}
	return f.sampleRepo
}

// Offline returns the offline record repository
func (f *RepositoryFactory) Offline() OfflineRepository {
	if f.offlineRepo == nil {
		f.offlineRepo = NewOfflineRepository(f.db)
	}
	return f.offlineRepo
}
