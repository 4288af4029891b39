package usecase

import (
	"context"
	"fmt"
	"strings"

	"interview-agent/internal/domain"
	"interview-agent/internal/store"
)

const (
	assigningInterviewerText = "Assigning an interviewer"
	interviewerOriginModel   = "Interviewer"

	questionsFailedText    = "Error: could not fetch interview questions."
	gradeFailedText        = "Error: grading request failed."
	noFurtherQuestionsText = "Thank you for your answers, no further questions."
)

// StartInterview fetches the question set for the conversation's level and
// purpose, stores it, and publishes the opening question as the assistant's
// message.
func (s *Service) StartInterview(ctx context.Context, conversationID string) error {
	conv, err := s.beginTurn(conversationID)
	if err != nil {
		return err
	}

	placeholder := s.appendPlaceholder(conversationID, assigningInterviewerText, interviewerOriginModel, conv.PurposeID)

	turnCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.store.StartTyping(conversationID, cancel)
	defer s.endTurn(conversationID, placeholder.ID)

	level := domain.LevelOrDefault(conv.ModelID)
	purpose := domain.PurposeOrDefault(conv.PurposeID)

	questions, err := s.interview.Questions(turnCtx, level.Years, purpose.SystemMessage)
	if err != nil {
		if s.cancelled(turnCtx, err, conversationID) {
			return nil
		}
		return s.failTurn(conversationID, placeholder.ID, questionsFailedText, "question_fetch_error", err)
	}
	if len(questions) == 0 {
		return s.failTurn(conversationID, placeholder.ID, questionsFailedText, "empty_question_set", nil)
	}

	opening := questions[0].Question
	s.store.EditMessage(conversationID, placeholder.ID, store.MessageUpdate{Text: &opening}, false)
	s.store.SetQuestions(conversationID, questions)
	s.store.SetQuestionIndex(conversationID, 0)
	if s.speaker != nil {
		s.speaker(opening)
	}

	s.publish(TurnCompleted, conversationID, "", "")
	return nil
}

// SubmitAnswer grades the candidate's answer to the current question, then
// advances the interview: the next question is published, or the terminal
// message once the list is exhausted.
func (s *Service) SubmitAnswer(ctx context.Context, conversationID, answer string) error {
	conv, err := s.beginTurn(conversationID)
	if err != nil {
		return err
	}

	history := conv.Messages
	if strings.TrimSpace(answer) != "" {
		userMsg := domain.NewMessage(domain.RoleUser, answer)
		userMsg.PurposeID = conv.PurposeID
		s.store.AppendMessage(conversationID, userMsg)
		history = append(history, userMsg)
	}
	s.spliceSystemMessage(conversationID, conv.PurposeID, history)

	return s.runAnswerTurn(ctx, conversationID, conv, answer)
}

// Restart replays the answer turn over a caller-provided history, e.g. after
// the user rewinds the conversation.
func (s *Service) Restart(ctx context.Context, conversationID string, history []domain.Message) error {
	conv, err := s.beginTurn(conversationID)
	if err != nil {
		return err
	}

	s.spliceSystemMessage(conversationID, conv.PurposeID, history)
	return s.runAnswerTurn(ctx, conversationID, conv, "")
}

func (s *Service) runAnswerTurn(ctx context.Context, conversationID string, conv domain.Conversation, answer string) error {
	questions, index := conv.Questions, conv.QuestionIndex

	placeholder := s.appendPlaceholder(conversationID, chatPlaceholderText, interviewerOriginModel, conv.PurposeID)

	turnCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.store.StartTyping(conversationID, cancel)

	var gradeErr error
	if index >= 0 && index < len(questions) {
		grade, err := s.interview.Grade(turnCtx, questions[index].Question, answer)
		switch {
		case err != nil && s.cancelled(turnCtx, err, conversationID):
			s.endTurn(conversationID, placeholder.ID)
			return nil
		case err != nil:
			// The grading result is lost but the interview still advances.
			s.store.EditMessage(conversationID, placeholder.ID, store.MessageUpdate{Text: ptr(gradeFailedText)}, false)
			gradeErr = err
		default:
			if turnCtx.Err() != nil {
				s.endTurn(conversationID, placeholder.ID)
				s.publish(TurnCancelled, conversationID, "", "")
				return nil
			}
			text := fmt.Sprintf("%s Your score for this answer is %s", grade.Description, grade.Score.String())
			s.store.EditMessage(conversationID, placeholder.ID, store.MessageUpdate{Text: &text}, false)
			s.store.SetQuestionScore(conversationID, index, grade)
			s.archiveGrade(ctx, conversationID, index, questions[index], grade)
		}
	}
	s.endTurn(conversationID, placeholder.ID)

	next := s.appendPlaceholder(conversationID, chatPlaceholderText, "", conv.PurposeID)
	s.store.StartTyping(conversationID, cancel)

	newIndex := index + 1
	nextText := noFurtherQuestionsText
	if newIndex < len(questions) {
		nextText = questions[newIndex].Question
	}
	s.store.EditMessage(conversationID, next.ID, store.MessageUpdate{Text: &nextText}, false)
	s.store.SetQuestionIndex(conversationID, newIndex)
	s.endTurn(conversationID, next.ID)

	if gradeErr != nil {
		return s.classifyGradeError(conversationID, gradeErr)
	}
	s.publish(TurnCompleted, conversationID, "", "")
	return nil
}

func (s *Service) classifyGradeError(conversationID string, err error) error {
	code := upstreamCode(err)
	s.publish(TurnFailed, conversationID, code, "grade_request_error")
	return newError(code, "grade_request_error", err)
}

func (s *Service) archiveGrade(ctx context.Context, conversationID string, index int, q domain.Question, grade domain.Grade) {
	if s.archive == nil {
		return
	}
	q.Score = grade.Score
	q.ScoreDescription = grade.Description
	q.Graded = true
	if err := s.archive.SaveGradedAnswer(ctx, conversationID, index, q, index+1); err != nil {
		s.logger.Warn("archive of graded answer failed",
			"conversation_id", conversationID, "index", index, "err", err)
	}
}

func ptr[T any](v T) *T { return &v }
