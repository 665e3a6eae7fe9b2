package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/medisight/healthdata-platform/internal/record"
	apperrors "github.com/medisight/healthdata-platform/pkg/errors"
	"github.com/medisight/healthdata-platform/pkg/postgres"
)

// Postgres is the production Store backed by PostgreSQL. Single-row inserts
// rely on ON CONFLICT DO NOTHING for duplicate detection, so two concurrent
// commits of the same identifier cannot both succeed. Individual statements
// autocommit, which gives the read-after-write visibility the ingestion
// coordinator depends on.
type Postgres struct {
	client *postgres.Client
}

// NewPostgres wraps an established PostgreSQL client.
func NewPostgres(client *postgres.Client) *Postgres {
	return &Postgres{client: client}
}

func (p *Postgres) Put(ctx context.Context, e record.Entity) error {
	var (
		res sql.Result
		err error
	)
	switch r := e.(type) {
	case *record.Patient:
		res, err = p.client.DB.ExecContext(ctx,
			`INSERT INTO patients (patient_id, age, gender, location, bmi, smoker_status,
				alcohol_use, physical_activity_level, insurance_type, chronic_conditions,
				registration_date, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
			ON CONFLICT (patient_id) DO NOTHING`,
			r.PatientID, r.Age, r.Gender, r.Location, r.BMI, nullable(r.SmokerStatus),
			nullable(r.AlcoholUse), nullable(r.ActivityLevel), nullable(r.InsuranceType),
			nullable(r.ChronicConditions), r.RegistrationDate, r.CreatedAt)
	case *record.Visit:
		res, err = p.client.DB.ExecContext(ctx,
			`INSERT INTO visits (visit_id, patient_id, visit_date, diagnosis_code,
				diagnosis_description, severity_score, blood_pressure, glucose_level,
				heart_rate, length_of_stay, previous_visit_gap_days,
				readmitted_within_30_days, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
			ON CONFLICT (visit_id) DO NOTHING`,
			r.VisitID, r.PatientID, r.VisitDate, r.DiagnosisCode,
			nullable(r.DiagnosisDescription), r.SeverityScore, nullable(r.BloodPressure),
			r.GlucoseLevel, r.HeartRate, r.LengthOfStay, r.PreviousVisitGapDays,
			r.Readmitted30Days, r.CreatedAt)
	case *record.Prescription:
		res, err = p.client.DB.ExecContext(ctx,
			`INSERT INTO prescriptions (prescription_id, visit_id, patient_id, drug_name,
				drug_category, dosage, quantity, days_supply, prescribed_date,
				refill_count, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
			ON CONFLICT (prescription_id) DO NOTHING`,
			r.PrescriptionID, r.VisitID, r.PatientID, r.DrugName,
			nullable(r.DrugCategory), nullable(r.Dosage), r.Quantity, r.DaysSupply,
			r.PrescribedDate, r.RefillCount, r.CreatedAt)
	default:
		return apperrors.Newf(apperrors.ErrInvalidInput, 400, "unsupported entity type %T", e)
	}
	if err != nil {
		return unavailable("inserting "+string(e.Kind()), err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return unavailable("inserting "+string(e.Kind()), err)
	}
	if n == 0 {
		return apperrors.Newf(apperrors.ErrConflict, 409, "%s %q already exists", e.Kind(), e.ID())
	}
	return nil
}

func (p *Postgres) Get(ctx context.Context, kind record.Kind, id string) (record.Entity, error) {
	row := p.client.DB.QueryRowContext(ctx, selectQuery(kind)+" WHERE "+idColumn(kind)+"=$1", id)
	e, err := scanEntity(kind, row.Scan)
	if err == sql.ErrNoRows {
		return nil, apperrors.Newf(apperrors.ErrNotFound, 404, "%s %q not found", kind, id)
	}
	if err != nil {
		return nil, unavailable("reading "+string(kind), err)
	}
	return e, nil
}

func (p *Postgres) Delete(ctx context.Context, kind record.Kind, id string) error {
	return p.client.InTx(ctx, func(tx *sql.Tx) error {
		var dependents bool
		switch kind {
		case record.KindPatient:
			err := tx.QueryRowContext(ctx,
				`SELECT EXISTS (SELECT 1 FROM visits WHERE patient_id=$1)
					OR EXISTS (SELECT 1 FROM prescriptions WHERE patient_id=$1)`, id).Scan(&dependents)
			if err != nil {
				return unavailable("checking patient dependents", err)
			}
		case record.KindVisit:
			err := tx.QueryRowContext(ctx,
				`SELECT EXISTS (SELECT 1 FROM prescriptions WHERE visit_id=$1)`, id).Scan(&dependents)
			if err != nil {
				return unavailable("checking visit dependents", err)
			}
		}
		if dependents {
			return apperrors.Newf(apperrors.ErrHasDependents, 409, "%s %q has dependent records", kind, id)
		}

		res, err := tx.ExecContext(ctx,
			fmt.Sprintf("DELETE FROM %s WHERE %s=$1", kind, idColumn(kind)), id)
		if err != nil {
			return unavailable("deleting "+string(kind), err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return unavailable("deleting "+string(kind), err)
		}
		if n == 0 {
			return apperrors.Newf(apperrors.ErrNotFound, 404, "%s %q not found", kind, id)
		}
		return nil
	})
}

func (p *Postgres) Scan(ctx context.Context, kind record.Kind, fn func(record.Entity) error) error {
	rows, err := p.client.DB.QueryContext(ctx, selectQuery(kind)+" ORDER BY created_at, "+idColumn(kind))
	if err != nil {
		return unavailable("scanning "+string(kind), err)
	}
	defer rows.Close()

	for rows.Next() {
		e, err := scanEntity(kind, rows.Scan)
		if err != nil {
			return unavailable("scanning "+string(kind), err)
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return unavailable("scanning "+string(kind), err)
	}
	return nil
}

func (p *Postgres) Count(ctx context.Context, kind record.Kind) (int64, error) {
	var n int64
	if err := p.client.DB.QueryRowContext(ctx,
		fmt.Sprintf("SELECT count(*) FROM %s", kind)).Scan(&n); err != nil {
		return 0, unavailable("counting "+string(kind), err)
	}
	return n, nil
}

func (p *Postgres) Ping(ctx context.Context) error {
	if err := p.client.DB.PingContext(ctx); err != nil {
		return unavailable("pinging postgres", err)
	}
	return nil
}

func idColumn(kind record.Kind) string {
	switch kind {
	case record.KindPatient:
		return "patient_id"
	case record.KindVisit:
		return "visit_id"
	default:
		return "prescription_id"
	}
}

func selectQuery(kind record.Kind) string {
	switch kind {
	case record.KindPatient:
		return `SELECT patient_id, age, gender, location, bmi, smoker_status, alcohol_use,
			physical_activity_level, insurance_type, chronic_conditions, registration_date,
			created_at FROM patients`
	case record.KindVisit:
		return `SELECT visit_id, patient_id, visit_date, diagnosis_code, diagnosis_description,
			severity_score, blood_pressure, glucose_level, heart_rate, length_of_stay,
			previous_visit_gap_days, readmitted_within_30_days, created_at FROM visits`
	default:
		return `SELECT prescription_id, visit_id, patient_id, drug_name, drug_category, dosage,
			quantity, days_supply, prescribed_date, refill_count, created_at FROM prescriptions`
	}
}

// scanEntity decodes one row into the entity for the kind. The scan function
// abstracts over sql.Row and sql.Rows.
func scanEntity(kind record.Kind, scan func(...any) error) (record.Entity, error) {
	switch kind {
	case record.KindPatient:
		p := &record.Patient{}
		var smoker, alcohol, activity, insurance, chronic sql.NullString
		err := scan(&p.PatientID, &p.Age, &p.Gender, &p.Location, &p.BMI, &smoker,
			&alcohol, &activity, &insurance, &chronic, &p.RegistrationDate, &p.CreatedAt)
		if err != nil {
			return nil, err
		}
		p.SmokerStatus = smoker.String
		p.AlcoholUse = alcohol.String
		p.ActivityLevel = activity.String
		p.InsuranceType = insurance.String
		p.ChronicConditions = chronic.String
		return p, nil
	case record.KindVisit:
		v := &record.Visit{}
		var desc, bp sql.NullString
		err := scan(&v.VisitID, &v.PatientID, &v.VisitDate, &v.DiagnosisCode, &desc,
			&v.SeverityScore, &bp, &v.GlucoseLevel, &v.HeartRate, &v.LengthOfStay,
			&v.PreviousVisitGapDays, &v.Readmitted30Days, &v.CreatedAt)
		if err != nil {
			return nil, err
		}
		v.DiagnosisDescription = desc.String
		v.BloodPressure = bp.String
		return v, nil
	default:
		p := &record.Prescription{}
		var category, dosage sql.NullString
		err := scan(&p.PrescriptionID, &p.VisitID, &p.PatientID, &p.DrugName, &category,
			&dosage, &p.Quantity, &p.DaysSupply, &p.PrescribedDate, &p.RefillCount, &p.CreatedAt)
		if err != nil {
			return nil, err
		}
		p.DrugCategory = category.String
		p.Dosage = dosage.String
		return p, nil
	}
}

// nullable converts a Go string to a sql.NullString, treating the empty
// string as NULL.
func nullable(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", apperrors.ErrStoreUnavailable, op, err)
}
