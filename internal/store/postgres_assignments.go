// Rollcall - Academy Attendance Notification Pipeline
// Copyright 2026 GoldPen Inc.
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/goldpen/rollcall

package store

import (
	"context"
	"fmt"
)

// ListAssignmentsDue returns one row per (assignment, enrolled student)
// for active assignments due on dueDate, excluding students who already
// submitted and inactive students.
func (p *Postgres) ListAssignmentsDue(ctx context.Context, tenantID, dueDate string) ([]AssignmentDue, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT a.id, a.tenant_id, a.class_id, a.title, a.due_date, a.active,
		        s.id, s.tenant_id, s.name, s.guardian_phone, s.active
		 FROM assignments a
		 JOIN enrollments e ON e.class_id = a.class_id
		 JOIN students s ON s.id = e.student_id
		 WHERE a.tenant_id = $1 AND a.due_date = $2 AND a.active AND s.active
		   AND NOT EXISTS (
		     SELECT 1 FROM assignment_submissions sub
		     WHERE sub.assignment_id = a.id AND sub.student_id = s.id
		   )
		 ORDER BY a.id, s.id`, tenantID, dueDate)
	if err != nil {
		return nil, fmt.Errorf("list due assignments: %w", err)
	}
	defer rows.Close()

	var due []AssignmentDue
	for rows.Next() {
		var d AssignmentDue
		if err := rows.Scan(
			&d.Assignment.ID, &d.Assignment.TenantID, &d.Assignment.ClassID,
			&d.Assignment.Title, &d.Assignment.DueDate, &d.Assignment.Active,
			&d.Student.ID, &d.Student.TenantID, &d.Student.Name,
			&d.Student.GuardianPhone, &d.Student.Active,
		); err != nil {
			return nil, fmt.Errorf("scan due assignment: %w", err)
		}
		due = append(due, d)
	}
	return due, rows.Err()
}
