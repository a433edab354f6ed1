package booking

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/clinova/allocation-engine/internal/schedule"
)

// MemoryRepository keeps everything in process. Single-node deployments and
// tests use it; the pgx repository is its production twin.
type MemoryRepository struct {
	mu           sync.RWMutex
	doctors      map[uuid.UUID]schedule.Doctor
	services     map[uuid.UUID]schedule.Service
	patients     map[uuid.UUID]Patient
	appointments map[uuid.UUID]Appointment
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		doctors:      make(map[uuid.UUID]schedule.Doctor),
		services:     make(map[uuid.UUID]schedule.Service),
		patients:     make(map[uuid.UUID]Patient),
		appointments: make(map[uuid.UUID]Appointment),
	}
}

func (r *MemoryRepository) PutDoctor(d schedule.Doctor) {
	r.mu.Lock()
	r.doctors[d.ID] = d
	r.mu.Unlock()
}

func (r *MemoryRepository) PutService(s schedule.Service) {
	r.mu.Lock()
	r.services[s.ID] = s
	r.mu.Unlock()
}

func (r *MemoryRepository) PutPatient(p Patient) {
	r.mu.Lock()
	r.patients[p.ID] = p
	r.mu.Unlock()
}

func (r *MemoryRepository) GetDoctorByID(ctx context.Context, id uuid.UUID) (*schedule.Doctor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.doctors[id]
	if !ok {
		return nil, ErrDoctorNotFound
	}
	return &d, nil
}

func (r *MemoryRepository) GetServiceByID(ctx context.Context, id uuid.UUID) (*schedule.Service, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.services[id]
	if !ok {
		return nil, ErrServiceNotFound
	}
	return &s, nil
}

func (r *MemoryRepository) GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.patients[id]
	if !ok {
		return nil, ErrPatientNotFound
	}
	return &p, nil
}

func (r *MemoryRepository) UpdateDoctorCalendar(ctx context.Context, id uuid.UUID, cal schedule.Calendar) (*schedule.Doctor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.doctors[id]
	if !ok {
		return nil, ErrDoctorNotFound
	}

	d.Calendar = cal
	d.UpdatedAt = time.Now()
	r.doctors[id] = d
	return &d, nil
}

func (r *MemoryRepository) ListBlocking(ctx context.Context, doctorID uuid.UUID, iv schedule.Interval, now time.Time) ([]Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Appointment
	for _, a := range r.appointments {
		if a.DoctorID != doctorID {
			continue
		}
		if a.Blocks(now) && a.Interval().Overlaps(iv) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (r *MemoryRepository) InsertAppointment(ctx context.Context, a *Appointment) error {
	r.mu.Lock()
	r.appointments[a.ID] = *a
	r.mu.Unlock()
	return nil
}

func (r *MemoryRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return &a, nil
}

func (r *MemoryRepository) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to Status) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.appointments[id]
	if !ok || a.Status != from {
		return nil, ErrAppointmentNotFound
	}

	a.Status = to
	a.UpdatedAt = time.Now()
	r.appointments[id] = a
	return &a, nil
}

func (r *MemoryRepository) ListAppointmentsByDoctor(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Appointment
	for _, a := range r.appointments {
		if a.DoctorID != doctorID {
			continue
		}
		if a.Start.Before(to) && from.Before(a.End) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

func (r *MemoryRepository) ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var all []Appointment
	for _, a := range r.appointments {
		if a.PatientID == patientID {
			all = append(all, a)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Start.Before(all[j].Start) })

	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all, nil
}
