// Package export persists the pipeline's output artifacts.
//
// # Artifacts
//
// daily_summary.csv:
//   - One row per calendar day in the requested range
//   - Fixed columns: date, total_steps, avg_heart_rate, min_heart_rate,
//     max_heart_rate, sleep_duration_minutes, avg_stress, activity_count
//   - Days without data keep their row; absent aggregates are empty cells
//
// df_all.csv:
//   - One row per observed timestamp across all metric kinds
//   - Fixed columns: timestamp, steps, heart_rate, sleep_stage, stress, activity
//   - A kind with no sample at a timestamp is an empty cell, never zero
//
// profile.json:
//   - The raw user profile document, pretty-printed when it parses
//
// # Atomicity
//
// The two CSVs are written to temp siblings and renamed into place only
// after both have been produced completely. An interrupted or failed run
// leaves neither file behind, so partial output can never be mistaken
// for a finished export.
package export
