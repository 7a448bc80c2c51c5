//go:build integration

package integration_test

import (
	"gitlab.com/timkado/api/wa-group-etl/internal/classify"
	"gitlab.com/timkado/api/wa-group-etl/internal/ledger"
	"gitlab.com/timkado/api/wa-group-etl/internal/model"
	"gitlab.com/timkado/api/wa-group-etl/internal/planner"
	"gitlab.com/timkado/api/wa-group-etl/internal/sales"
	"gitlab.com/timkado/api/wa-group-etl/internal/source"
	"gitlab.com/timkado/api/wa-group-etl/internal/storage"
	"gitlab.com/timkado/api/wa-group-etl/internal/usecase"
	"gitlab.com/timkado/api/wa-group-etl/pkg/utils"
)

const pipelineBatch = `
roster:
  - phone: "+972 50-123-4567"
    name: Dana
    current_lesson: "1"
    teacher: Avi
groups:
  Students 2025:
    - sender: "972501234567"
      timestamp: "10:00, 01.01.2025"
      text: did my practice
    - sender: Dana
      timestamp: "10:05, 01.01.2025"
      text: a question
    - sender: Stranger
      timestamp: "10:06, 01.01.2025"
      text: practice
  Leads:
    - sender: bot
      timestamp: "09:00, 02.01.2025"
      text: "מקור: FB\nשם: Noa\nטלפון: 052-7654321\nמייל: noa@example.com"
`

func (s *IntegrationSuite) newPipelineRunner(store storage.Store, publisher usecase.EventPublisher, layout storage.Layout) (*usecase.Runner, *source.FileSource) {
	batch, err := source.ParseBatch([]byte(pipelineBatch))
	s.Require().NoError(err)
	src := source.NewFileSource(batch)

	classifier, err := classify.New([]string{"practice"}, []string{"question"}, "")
	s.Require().NoError(err)
	plan := planner.New(
		planner.WithCollections(layout.Students.Collection, layout.Watermarks.Collection),
		planner.WithClock(utils.Now),
	)
	students := usecase.NewStudentPipeline(
		src, src, src, store,
		classifier, ledger.NewReconciler(nil, utils.Now), plan,
		"Students 2025", 50,
	)
	salesPipeline := usecase.NewSalesPipeline(
		src, src, publisher, store, plan,
		sales.DefaultLabels, model.DefaultSalesIdentifier,
		"Leads", 50,
	)
	return usecase.NewRunner(students, salesPipeline, store, publisher), src
}

func (s *IntegrationSuite) TestPipeline_ReplayAgainstEachStore() {
	layout := s.Layout()
	for driver, store := range s.OpenStores(layout) {
		s.Run(driver, func() {
			publisher, cfg, client := s.NewPublisher()
			runner, src := s.newPipelineRunner(store, publisher, layout)

			first, err := runner.RunOnce(s.Ctx)
			s.Require().NoError(err)
			s.Equal(2, first.Students.Applied)
			s.Equal(1, first.Students.Skipped)
			s.Equal(1, first.Students.Upserts)
			s.Equal(1, first.Sales.NewLeads)

			doc, err := store.FindStudent(s.Ctx, first.Students.Plan[0].Filter.Value)
			s.Require().NoError(err)
			s.Equal("10:00, 01.01.2025", doc.LastPracticeTimedate)
			s.Equal("10:05, 01.01.2025", doc.LastMessageTimedate)

			wm, err := store.FindWatermark(s.Ctx, model.DefaultSalesIdentifier)
			s.Require().NoError(err)
			s.Equal("2025-01-02T09:00:00.000Z", wm.LastRunTimestamp)

			second, err := runner.RunOnce(s.Ctx)
			s.Require().NoError(err)
			s.Zero(second.Students.Applied)
			s.Zero(second.Students.Upserts)
			s.Zero(second.Sales.NewLeads)
			s.Len(src.Leads(), 1)
			s.Len(src.SheetUpdates(), 1)

			// one lead plus a run log per domain and run
			s.Equal(uint64(5), s.streamMessages(client, cfg.Stream))
		})
	}
}
