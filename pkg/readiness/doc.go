/*
Package readiness implements Helmsman's Readiness Assessor (spec §4.F)
and Go-Live Checklist (§4.G): a weighted multi-category score that
produces a go/conditional/no-go decision, and a gated checklist of
automated checks plus manual approvals. Both are standalone:
`pkg/deployment` does not consult the assessment or the checklist before
or during a rollout.

Both are generalized from the teacher's pkg/health.Checker/Status shape:
where the teacher tracks one container's consecutive pass/fail streak
against a single Config, the Assessor tracks several independently
weighted categories (infrastructure, application, monitoring, security,
rollback_plan) and rolls them into one score, and the Checklist reuses
the teacher's pass/fail Result idea but adds the approval gate the
teacher's container checks never needed.
*/
package readiness
