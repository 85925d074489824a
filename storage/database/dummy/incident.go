package dummydb

import (
	"context"
	"sort"

	"github.com/trezcool/mkopo/core"
	"github.com/trezcool/mkopo/core/incident"
)

type incidentRepository struct {
	db *incidentTable
}

var _ incident.Repository = (*incidentRepository)(nil) // interface compliance check

func NewIncidentRepository(db *DB) incident.Repository {
	return &incidentRepository{db: db.incident}
}

func (repo *incidentRepository) CreateIncident(_ context.Context, inc incident.Incident) (incident.Incident, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	repo.db.pk++
	inc.ID = repo.db.pk
	inc.GUID = core.SequentialGUID(core.IncidentPrefix, inc.ID)
	repo.db.table[inc.GUID] = &inc
	return inc, nil
}

func (repo *incidentRepository) GetIncident(_ context.Context, guid string) (incident.Incident, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if inc, ok := repo.db.table[guid]; ok {
		return *inc, nil
	}
	return incident.Incident{}, incident.ErrNotFound
}

func (repo *incidentRepository) QueryIncidents(_ context.Context, filter *incident.QueryFilter, ordering []core.DBOrdering) ([]incident.Incident, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if filter == nil {
		filter = new(incident.QueryFilter)
	}

	incidents := make([]incident.Incident, 0, len(repo.db.table))
	for _, inc := range repo.db.table {
		if filter.DeviceGUID != "" && inc.DeviceGUID != filter.DeviceGUID {
			continue
		}
		if filter.ReporterGUID != "" && inc.ReporterGUID != filter.ReporterGUID {
			continue
		}
		if filter.Resolved != nil && inc.Resolved != *filter.Resolved {
			continue
		}
		incidents = append(incidents, *inc)
	}

	sort.Slice(incidents, func(i, j int) bool { return incidents[i].ID < incidents[j].ID })
	sort.SliceStable(incidents, orderBy(ordering, func(field string, i, j int) int {
		switch field {
		case "guid":
			return compareStrings(incidents[i].GUID, incidents[j].GUID)
		case "created_at":
			return compareTimes(incidents[i].CreatedAt, incidents[j].CreatedAt)
		}
		return 0
	}))
	return incidents, nil
}

func (repo *incidentRepository) MutateIncident(_ context.Context, guid string, fn func(*incident.Incident) error) (incident.Incident, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	inc, ok := repo.db.table[guid]
	if !ok {
		return incident.Incident{}, incident.ErrNotFound
	}

	cp := *inc
	if err := fn(&cp); err != nil {
		return incident.Incident{}, err
	}
	*inc = cp
	return cp, nil
}
