//go:build integration

package repository_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"marketplace-dispatch/internal/domain"
	"marketplace-dispatch/internal/ports/dispatchtx"
	"marketplace-dispatch/internal/repository"
)

type OrderRepositorySuite struct {
	suite.Suite
	repo *repository.OrderRepo
}

func TestOrderRepositorySuite(t *testing.T) {
	suite.Run(t, new(OrderRepositorySuite))
}

func (s *OrderRepositorySuite) SetupSuite() {
	s.repo = repository.NewOrderRepo(tcPool)
}

func (s *OrderRepositorySuite) SetupTest() {
	truncate(s.T())
}

func (s *OrderRepositorySuite) TestGetSnapshot_GroupsItemsBySeller() {
	ctx := context.Background()
	s1 := insertSeller(s.T(), f64(0), f64(0), 10)
	s2 := insertSeller(s.T(), nil, nil, 0)
	insertOrder(s.T(), "o-1", "ready_for_pickup", nil)
	insertItem(s.T(), "o-1", s1, "p-1", 2)
	insertItem(s.T(), "o-1", s1, "p-2", 1)
	insertItem(s.T(), "o-1", s2, "p-3", 4)

	o, err := s.repo.GetSnapshot(ctx, "o-1")
	s.Require().NoError(err)
	s.Require().NotNil(o)

	s.Equal(domain.OrderStatusReadyForPickup, o.Status)
	s.Nil(o.AssignedCourierID)
	s.Equal([]int64{s1, s2}, o.SellerIDs())
	s.Len(o.Sellers[0].Items, 2)
	s.Equal(7, o.Summary().ItemCount)
	s.Equal("Main st. 1", o.DeliveryAddressSummary)
}

func (s *OrderRepositorySuite) TestGetSnapshot_NotFound() {
	o, err := s.repo.GetSnapshot(context.Background(), "missing")
	s.Require().NoError(err)
	s.Nil(o)
}

func (s *OrderRepositorySuite) TestAssignCourier_WriteOnce() {
	ctx := context.Background()
	c1 := insertCourier(s.T(), nil, nil, true, true)
	c2 := insertCourier(s.T(), nil, nil, true, true)
	insertOrder(s.T(), "o-2", "ready_for_pickup", nil)

	assign := func(courierID int64) bool {
		var ok bool
		err := s.repo.WithTx(ctx, func(tx dispatchtx.Repository) error {
			var err error
			ok, err = tx.AssignCourier(ctx, "o-2", courierID, time.Now().UTC())
			return err
		})
		s.Require().NoError(err)
		return ok
	}

	s.True(assign(c1))
	s.False(assign(c2))

	o, err := s.repo.GetSnapshot(ctx, "o-2")
	s.Require().NoError(err)
	s.Require().NotNil(o.AssignedCourierID)
	s.Equal(c1, *o.AssignedCourierID)
	s.Equal(domain.OrderStatusCourierAssigned, o.Status)
	s.NotNil(o.AssignedAt)
}

func (s *OrderRepositorySuite) TestAssignCourier_ConcurrentSingleWinner() {
	ctx := context.Background()
	insertOrder(s.T(), "o-3", "ready_for_pickup", nil)

	const n = 8
	ids := make([]int64, n)
	for i := range ids {
		ids[i] = insertCourier(s.T(), nil, nil, true, true)
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for _, id := range ids {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			_ = s.repo.WithTx(ctx, func(tx dispatchtx.Repository) error {
				ok, err := tx.AssignCourier(ctx, "o-3", id, time.Now().UTC())
				if ok {
					mu.Lock()
					wins++
					mu.Unlock()
				}
				return err
			})
		}(id)
	}
	wg.Wait()

	s.Equal(1, wins)
}

func (s *OrderRepositorySuite) TestMarkExhausted_AndOutcome() {
	ctx := context.Background()
	insertOrder(s.T(), "o-4", "ready_for_pickup", nil)

	outcome := domain.NewExhaustedOutcome("o-4", domain.ReasonAllDeclined, 3, time.Now().UTC())
	err := s.repo.WithTx(ctx, func(tx dispatchtx.Repository) error {
		ok, err := tx.MarkExhausted(ctx, "o-4", domain.ReasonAllDeclined, 3)
		s.Require().NoError(err)
		s.Require().True(ok)
		return tx.InsertOutcome(ctx, &outcome)
	})
	s.Require().NoError(err)

	o, err := s.repo.GetSnapshot(ctx, "o-4")
	s.Require().NoError(err)
	s.Equal(domain.OrderStatusNoCourier, o.Status)
	s.Equal("all_declined", o.RejectionReason)
	s.Equal(3, o.DeclinedCount)

	outcomes, err := s.repo.ListOutcomes(ctx, "o-4")
	s.Require().NoError(err)
	s.Require().Len(outcomes, 1)
	s.Equal(outcome.ID, outcomes[0].ID)
	s.Equal(domain.ResolutionExhausted, outcomes[0].Resolution)
	s.Nil(outcomes[0].CourierID)

	var again bool
	err = s.repo.WithTx(ctx, func(tx dispatchtx.Repository) error {
		var err error
		again, err = tx.MarkExhausted(ctx, "o-4", domain.ReasonAllDeclined, 3)
		return err
	})
	s.Require().NoError(err)
	s.False(again)
}

func (s *OrderRepositorySuite) TestWithTx_RollsBackOnError() {
	ctx := context.Background()
	c := insertCourier(s.T(), nil, nil, true, true)
	insertOrder(s.T(), "o-5", "ready_for_pickup", nil)

	boom := errors.New("boom")
	err := s.repo.WithTx(ctx, func(tx dispatchtx.Repository) error {
		ok, err := tx.AssignCourier(ctx, "o-5", c, time.Now().UTC())
		s.Require().NoError(err)
		s.Require().True(ok)
		return boom
	})
	s.Require().ErrorIs(err, boom)

	o, err := s.repo.GetSnapshot(ctx, "o-5")
	s.Require().NoError(err)
	s.Nil(o.AssignedCourierID)
	s.Equal(domain.OrderStatusReadyForPickup, o.Status)
}

func (s *OrderRepositorySuite) TestTxGetOrder_Missing() {
	ctx := context.Background()
	err := s.repo.WithTx(ctx, func(tx dispatchtx.Repository) error {
		o, err := tx.GetOrder(ctx, "nope")
		s.Nil(o)
		return err
	})
	s.Require().NoError(err)
}
