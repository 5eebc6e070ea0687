package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"meldeboks/internal/correspondence"
	"meldeboks/internal/dialog"
	"meldeboks/internal/eventbus"
	"meldeboks/internal/jobs"
	"meldeboks/internal/notification"
	"meldeboks/internal/platform/logger"
	"meldeboks/internal/register"
	domainerrors "meldeboks/pkg/domain-errors"
	"meldeboks/pkg/platform/tx"
)

type ServiceSuite struct {
	suite.Suite

	store     *correspondence.InMemoryStore
	register  *register.Static
	scheduler *jobs.InMemoryScheduler
	service   *Service

	party register.Party
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.store = correspondence.NewInMemoryStore()
	s.register = register.NewStatic()
	s.scheduler = jobs.NewInMemoryScheduler()
	s.service = New(s.store, s.register, s.scheduler, tx.Nop{}, logger.Discard())

	s.party = register.Party{
		UUID:       uuid.New(),
		Type:       register.PartyPerson,
		Name:       "Kari Nordmann",
		Identifier: "urn:altinn:person:identifier-no:01017012345",
	}
	s.register.Add(s.party)
}

// seed creates a correspondence and walks its ledger through the given
// statuses a minute apart.
func (s *ServiceSuite) seed(statuses []correspondence.Status, mutate func(*correspondence.Correspondence)) *correspondence.Correspondence {
	c := &correspondence.Correspondence{
		ID:         uuid.New(),
		ResourceID: "res-1",
		Sender:     "0192:991825827",
		Recipient:  "0192:987654321",
		Created:    time.Now().UTC().Add(-24 * time.Hour),
	}
	if mutate != nil {
		mutate(c)
	}
	s.Require().NoError(s.store.Create(context.Background(), c))
	for i, st := range statuses {
		s.Require().NoError(s.store.AddStatusEvent(context.Background(), correspondence.StatusEvent{
			CorrespondenceID: c.ID,
			Status:           st,
			OccurredAt:       c.Created.Add(time.Duration(i) * time.Minute),
		}))
	}
	return c
}

func (s *ServiceSuite) published() []correspondence.Status {
	return []correspondence.Status{
		correspondence.StatusInitialized,
		correspondence.StatusReadyForPublish,
		correspondence.StatusPublished,
	}
}

func (s *ServiceSuite) currentStatus(id uuid.UUID) correspondence.Status {
	c, err := s.store.GetByID(context.Background(), id)
	s.Require().NoError(err)
	current, ok := c.CurrentStatus()
	s.Require().True(ok)
	return current.Status
}

func (s *ServiceSuite) TestPublish_AnnouncesAndOrdersNotification() {
	c := s.seed([]correspondence.Status{
		correspondence.StatusInitialized,
		correspondence.StatusReadyForPublish,
	}, nil)

	s.Require().NoError(s.service.Publish(context.Background(), c.ID, time.Now().UTC()))
	s.Equal(correspondence.StatusPublished, s.currentStatus(c.ID))

	events := s.scheduler.ByType(eventbus.JobPublish)
	s.Require().Len(events, 1)
	var event eventbus.Event
	s.Require().NoError(json.Unmarshal(events[0].Job.Payload, &event))
	s.Equal(eventbus.EventCorrespondencePublished, event.Type)

	orders := s.scheduler.ByType(notification.JobSendOrder)
	s.Require().Len(orders, 1)
	var order notification.Order
	s.Require().NoError(json.Unmarshal(orders[0].Job.Payload, &order))
	s.Equal(c.Recipient, order.Recipient)
	s.Equal(c.ID, order.CorrespondenceID)
}

func (s *ServiceSuite) TestPublish_RequiresReadyForPublish() {
	c := s.seed([]correspondence.Status{correspondence.StatusInitialized}, nil)

	err := s.service.Publish(context.Background(), c.ID, time.Now().UTC())
	s.Require().Error(err)
	s.True(domainerrors.HasCode(err, domainerrors.CodeIllegalTransition))
	s.Empty(s.scheduler.Created())
}

func (s *ServiceSuite) TestPublish_MigratingSkipsFanout() {
	c := s.seed([]correspondence.Status{
		correspondence.StatusInitialized,
		correspondence.StatusReadyForPublish,
	}, func(c *correspondence.Correspondence) {
		legacy := int64(42)
		c.LegacyID = &legacy
		c.IsMigrating = true
	})

	s.Require().NoError(s.service.Publish(context.Background(), c.ID, time.Now().UTC()))
	s.Equal(correspondence.StatusPublished, s.currentStatus(c.ID))
	s.Empty(s.scheduler.Created())
}

func (s *ServiceSuite) TestAppendStatus_UnknownCorrespondence() {
	_, err := s.service.AppendStatus(context.Background(), AppendRequest{
		CorrespondenceID: uuid.New(),
		Status:           correspondence.StatusFetched,
		OccurredAt:       time.Now().UTC(),
	})
	s.Require().Error(err)
	s.True(domainerrors.HasCode(err, domainerrors.CodeNotFound))
}

func (s *ServiceSuite) TestAppendStatus_IllegalTransition() {
	c := s.seed([]correspondence.Status{correspondence.StatusInitialized}, nil)

	_, err := s.service.AppendStatus(context.Background(), AppendRequest{
		CorrespondenceID: c.ID,
		Status:           correspondence.StatusFetched,
		OccurredAt:       time.Now().UTC(),
	})
	s.Require().Error(err)
	s.True(domainerrors.HasCode(err, domainerrors.CodeIllegalTransition))
	s.Equal(correspondence.StatusInitialized, s.currentStatus(c.ID))
}

func (s *ServiceSuite) TestAppendStatus_PurgedIsTerminal() {
	c := s.seed(append(s.published(), correspondence.StatusPurgedByRecipient), nil)

	_, err := s.service.AppendStatus(context.Background(), AppendRequest{
		CorrespondenceID: c.ID,
		Status:           correspondence.StatusFetched,
		OccurredAt:       time.Now().UTC(),
	})
	s.Require().Error(err)
	s.True(domainerrors.HasCode(err, domainerrors.CodeAlreadyPurged))
}

func (s *ServiceSuite) TestMarkAsRead_RequiresFetched() {
	c := s.seed(s.published(), nil)

	err := s.service.MarkAsRead(context.Background(), c.ID, s.party.UUID, time.Now().UTC())
	s.Require().Error(err)
	s.True(domainerrors.HasCode(err, domainerrors.CodeIllegalTransition))
	s.Empty(s.scheduler.Created())
}

func (s *ServiceSuite) TestMarkAsRead_PublishesEventAndActivity() {
	c := s.seed(append(s.published(), correspondence.StatusFetched), nil)
	now := time.Now().UTC()

	s.Require().NoError(s.service.MarkAsRead(context.Background(), c.ID, s.party.UUID, now))
	s.Equal(correspondence.StatusRead, s.currentStatus(c.ID))

	published := s.scheduler.ByType(eventbus.JobPublish)
	s.Require().Len(published, 1)
	var event eventbus.Event
	s.Require().NoError(json.Unmarshal(published[0].Job.Payload, &event))
	s.Equal(eventbus.EventReceiverRead, event.Type)
	s.Equal(c.Sender, event.Recipient)

	s.Len(s.scheduler.ByType(dialog.JobOpenedActivity), 1)
}

func (s *ServiceSuite) TestConfirm_RequiresFetchedOrRead() {
	c := s.seed(s.published(), nil)

	err := s.service.Confirm(context.Background(), c.ID, s.party.UUID, time.Now().UTC())
	s.Require().Error(err)
	s.True(domainerrors.HasCode(err, domainerrors.CodeIllegalTransition))
}

func (s *ServiceSuite) TestConfirm_PatchesAndSchedulesVerification() {
	c := s.seed(append(s.published(), correspondence.StatusFetched), nil)

	s.Require().NoError(s.service.Confirm(context.Background(), c.ID, s.party.UUID, time.Now().UTC()))
	s.Equal(correspondence.StatusConfirmed, s.currentStatus(c.ID))

	published := s.scheduler.ByType(eventbus.JobPublish)
	s.Require().Len(published, 1)
	var event eventbus.Event
	s.Require().NoError(json.Unmarshal(published[0].Job.Payload, &event))
	s.Equal(eventbus.EventReceiverConfirmed, event.Type)

	s.Len(s.scheduler.ByType(dialog.JobConfirmedActivity), 1)
	s.Len(s.scheduler.ByType(dialog.JobPatchConfirmed), 1)

	verifications := s.scheduler.ByType(dialog.JobVerifyConfirmed)
	s.Require().Len(verifications, 1)
	s.Equal(verifyPatchDelay, verifications[0].State.Delay)
}

func (s *ServiceSuite) TestArchive_ConfirmationNeededGate() {
	c := s.seed(append(s.published(), correspondence.StatusFetched), func(c *correspondence.Correspondence) {
		c.IsConfirmationNeeded = true
	})

	err := s.service.Archive(context.Background(), c.ID, s.party.UUID, time.Now().UTC())
	s.Require().Error(err)
	s.True(domainerrors.HasCode(err, domainerrors.CodeConfirmationNeeded))
	s.Empty(s.scheduler.Created())
}

func (s *ServiceSuite) TestArchive_MovesDialogToArchiveLabel() {
	c := s.seed(append(s.published(), correspondence.StatusFetched, correspondence.StatusConfirmed), func(c *correspondence.Correspondence) {
		c.IsConfirmationNeeded = true
	})

	s.Require().NoError(s.service.Archive(context.Background(), c.ID, s.party.UUID, time.Now().UTC()))
	s.Equal(correspondence.StatusArchived, s.currentStatus(c.ID))

	labels := s.scheduler.ByType(dialog.JobUpdateLabels)
	s.Require().Len(labels, 1)
	var payload dialog.UpdateLabelsPayload
	s.Require().NoError(json.Unmarshal(labels[0].Job.Payload, &payload))
	s.Equal(s.party.Identifier, payload.EndUser)
	s.Equal([]string{dialog.LabelArchive}, payload.Add)
	s.Empty(payload.Remove)
}

func (s *ServiceSuite) TestArchive_UnknownParty() {
	c := s.seed(append(s.published(), correspondence.StatusFetched), nil)

	err := s.service.Archive(context.Background(), c.ID, uuid.New(), time.Now().UTC())
	s.Require().Error(err)
	s.True(domainerrors.HasCode(err, domainerrors.CodeNotFound))
}

func (s *ServiceSuite) TestMigrating_AppendsWithoutSideEffects() {
	c := s.seed(append(s.published(), correspondence.StatusFetched), func(c *correspondence.Correspondence) {
		legacyID := int64(4711)
		c.LegacyID = &legacyID
		c.IsMigrating = true
	})

	s.Require().NoError(s.service.MarkAsRead(context.Background(), c.ID, s.party.UUID, time.Now().UTC()))
	s.Equal(correspondence.StatusRead, s.currentStatus(c.ID))
	s.Empty(s.scheduler.Created())
}
