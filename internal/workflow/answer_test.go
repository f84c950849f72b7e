package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/resume-builder/internal/db"
	"github.com/jonathan/resume-builder/internal/llm"
	"github.com/jonathan/resume-builder/internal/types"
)

func sessionWithQuestions(fx *fixture, t *testing.T, questions ...types.QuestionItem) *types.ResumeSession {
	return fx.newSession(t, func(s *types.ResumeSession) {
		s.ResumeState.Stage = types.StageQuestionnairePending
		s.Questionnaire.Questions = questions
	})
}

// replyByField answers process-answer prompts according to the related field in the prompt
func replyByField(replies map[string]string) func(llm.Request) (string, error) {
	return func(req llm.Request) (string, error) {
		for fieldName, text := range replies {
			if strings.Contains(req.Prompt, "Related field: "+fieldName+"\n") {
				return text, nil
			}
		}
		return "", fmt.Errorf("unexpected prompt: %s", req.Prompt)
	}
}

func TestAnswerQuestions_DockerSkillNotDuplicated(t *testing.T) {
	fx := newFixture(t)
	fx.setGraph(t, &types.KnowledgeGraph{Skills: []string{"Python", "Docker"}})
	_, revBefore := fx.graph(t)
	fx.llm.reply(OpAnswer, `{"knowledge_graph_updates": {"category": "skills", "data": ["Docker"]}, "confidence": 0.7, "summary": "Intermediate Docker"}`)
	sess := sessionWithQuestions(fx, t, question("q1", "Docker", "skill"))

	res, err := fx.svc.AnswerQuestions(fx.ctx, fx.userID(), sess.ID, []Answer{
		{QuestionID: "q1", Answer: "Used it in 3 projects, intermediate"},
	})
	require.NoError(t, err)
	require.Len(t, res.Results, 1)
	item := res.Results[0]
	assert.Equal(t, ItemAnswered, item.Status)
	assert.InDelta(t, 0.7, item.Confidence, 0.0001)
	assert.Equal(t, types.CategorySkills, item.Category)
	require.NotNil(t, item.Merge)
	assert.False(t, item.Merge.Applied)
	assert.False(t, res.KnowledgeGraphUpdated)

	kg, rev := fx.graph(t)
	assert.Equal(t, []string{"Python", "Docker"}, kg.Skills)
	assert.Equal(t, revBefore, rev, "nothing new means no write")

	assert.Equal(t, 100.0, res.Completion)
	assert.True(t, res.AllAnswered)
	stored := fx.session(t, sess.ID)
	assert.Equal(t, types.StageReadyForResume, stored.ResumeState.Stage)
	assert.Equal(t, "questions_batch_answered", stored.ResumeState.LastAction)
	q := stored.Questionnaire.Questions[0]
	require.NotNil(t, q.Answer)
	assert.Equal(t, "Used it in 3 projects, intermediate", *q.Answer)
	assert.Equal(t, types.QuestionAnswered, q.Status)

	calls := fx.llm.callsFor(OpAnswer)
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0].Prompt, "Knowledge graph categories and schemas")
}

func TestAnswerQuestions_BatchWithUnknownID(t *testing.T) {
	fx := newFixture(t)
	fx.llm.on(OpAnswer, replyByField(map[string]string{
		"Docker": `{"knowledge_graph_updates": {"category": "skills", "data": ["Docker"]}, "confidence": 0.8, "summary": "Docker"}`,
		"Acme":   `{"knowledge_graph_updates": {"category": "work_experience", "data": {"company": "Acme", "position": "Engineer", "start_date": "2020"}}, "confidence": 0.9, "summary": "Acme job"}`,
	}))
	sess := sessionWithQuestions(fx, t,
		question("q1", "Docker", "skill"),
		question("q2", "Acme", "experience"),
		question("q3", "Terraform", "skill"),
	)

	res, err := fx.svc.AnswerQuestions(fx.ctx, fx.userID(), sess.ID, []Answer{
		{QuestionID: "q1", Answer: "Yes, intermediate"},
		{QuestionID: "missing", Answer: "whatever"},
		{QuestionID: "q2", Answer: "Engineer at Acme since 2020"},
	})
	require.NoError(t, err, "an unknown id never fails the batch")

	require.Len(t, res.Results, 2)
	assert.Equal(t, "q1", res.Results[0].QuestionID)
	assert.Equal(t, "q2", res.Results[1].QuestionID)
	for _, r := range res.Results {
		assert.Equal(t, ItemAnswered, r.Status)
		assert.Empty(t, r.Error)
	}
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "missing")

	assert.Equal(t, 3, res.TotalQuestions)
	assert.Equal(t, 2, res.AnsweredCount)
	assert.Equal(t, 100*2/3.0, res.Completion)
	assert.False(t, res.AllAnswered)
	assert.Equal(t, types.StageQuestionnairePending, res.Stage)
	assert.True(t, res.KnowledgeGraphUpdated)

	kg, rev := fx.graph(t)
	assert.Equal(t, []string{"Docker"}, kg.Skills)
	require.Len(t, kg.WorkExperience, 1)
	assert.Equal(t, "Acme", kg.WorkExperience[0].Company)
	assert.EqualValues(t, 1, rev, "one graph write per batch")

	stored := fx.session(t, sess.ID)
	assert.Equal(t, types.QuestionUnanswered, stored.Questionnaire.Questions[2].Status)
	assert.Equal(t, res.Completion, stored.Questionnaire.Completion)
}

func TestAnswerQuestions_ItemFailuresAreIsolated(t *testing.T) {
	fx := newFixture(t)
	fx.setGraph(t, &types.KnowledgeGraph{Education: []types.EducationRecord{{Institution: "MIT", Degree: "BSc"}}})
	fx.llm.on(OpAnswer, replyByField(map[string]string{
		"Rust":   "I think they know Rust reasonably well.",
		"Go":     `{"knowledge_graph_updates": {"category": "skills", "data": ["Go"]}, "confidence": "0.9", "summary": "Go"}`,
		"Degree": `{"knowledge_graph_updates": {"category": "education", "data": "a masters"}, "confidence": 0.5, "summary": "bad shape"}`,
	}))
	byField := fx.llm.script[OpAnswer]
	fx.llm.on(OpAnswer, func(req llm.Request) (string, error) {
		if strings.Contains(req.Prompt, "Related field: K8s\n") {
			return "", &llm.TransportError{Message: "reset by peer"}
		}
		return byField(req)
	})
	sess := sessionWithQuestions(fx, t,
		question("rust", "Rust", "skill"),
		question("go", "Go", "skill"),
		question("deg", "Degree", "education"),
		question("k8s", "K8s", "skill"),
		question("blank", "Java", "skill"),
	)

	res, err := fx.svc.AnswerQuestions(fx.ctx, fx.userID(), sess.ID, []Answer{
		{QuestionID: "rust", Answer: "some"},
		{QuestionID: "go", Answer: "5 years"},
		{QuestionID: "deg", Answer: "MSc from ETH"},
		{QuestionID: "k8s", Answer: "a little"},
		{QuestionID: "blank", Answer: "   "},
	})
	require.NoError(t, err)
	require.Len(t, res.Results, 5)
	byID := map[string]AnswerItemResult{}
	for _, r := range res.Results {
		byID[r.QuestionID] = r
	}

	assert.Equal(t, ItemAnswered, byID["rust"].Status, "unparseable replies still record the answer")
	assert.Equal(t, llm.ParseFailureMarker, byID["rust"].Error)
	assert.Zero(t, byID["rust"].Confidence)
	assert.Nil(t, byID["rust"].Merge)

	assert.Equal(t, ItemAnswered, byID["go"].Status)
	assert.True(t, byID["go"].Merge.Applied)

	assert.Equal(t, ItemAnswered, byID["deg"].Status)
	assert.Contains(t, byID["deg"].Error, "merge failed")

	assert.Equal(t, ItemFailed, byID["k8s"].Status)
	assert.Contains(t, byID["k8s"].Error, "reset by peer")

	assert.Equal(t, ItemFailed, byID["blank"].Status)
	assert.Equal(t, "answer is empty", byID["blank"].Error)

	assert.Equal(t, 3, res.AnsweredCount)
	assert.Equal(t, 60.0, res.Completion)

	kg, _ := fx.graph(t)
	assert.Equal(t, []string{"Go"}, kg.Skills)
	assert.Len(t, kg.Education, 1, "the malformed education entry was not appended")

	stored := fx.session(t, sess.ID)
	rust := stored.Questionnaire.Questions[0]
	require.NotNil(t, rust.Confidence)
	assert.Zero(t, *rust.Confidence)
	assert.Equal(t, types.QuestionUnanswered, stored.Questionnaire.Questions[3].Status)
	assert.Equal(t, types.StageQuestionnairePending, stored.ResumeState.Stage)
}

func TestAnswerQuestions_AllGatewayFailures(t *testing.T) {
	fx := newFixture(t)
	fx.llm.fail(OpAnswer, &llm.TransportError{Message: "quota exceeded"})
	sess := sessionWithQuestions(fx, t, question("q1", "Docker", "skill"), question("q2", "AWS", "skill"))

	_, err := fx.svc.AnswerQuestions(fx.ctx, fx.userID(), sess.ID, []Answer{
		{QuestionID: "q1", Answer: "yes"},
		{QuestionID: "q2", Answer: "yes"},
	})
	require.Error(t, err)
	assert.True(t, llm.IsUpstreamFailure(err))

	stored := fx.session(t, sess.ID)
	assert.Equal(t, types.StageError, stored.ResumeState.Stage)
	assert.Equal(t, OpAnswer+"_failed", stored.ResumeState.LastAction)
	assert.Zero(t, stored.AnsweredCount())
}

func TestAnswerQuestions_Preconditions(t *testing.T) {
	fx := newFixture(t)

	t.Run("no answers", func(t *testing.T) {
		sess := sessionWithQuestions(fx, t, question("q1", "Go", "skill"))
		_, err := fx.svc.AnswerQuestions(fx.ctx, fx.userID(), sess.ID, nil)
		var pe *PreconditionError
		assert.True(t, errors.As(err, &pe))
	})

	t.Run("no questionnaire", func(t *testing.T) {
		sess := fx.newSession(t, nil)
		_, err := fx.svc.AnswerQuestions(fx.ctx, fx.userID(), sess.ID, []Answer{{QuestionID: "q1", Answer: "x"}})
		var pe *PreconditionError
		require.True(t, errors.As(err, &pe))
		assert.Contains(t, pe.Message, "questionnaire")
	})

	t.Run("completed session", func(t *testing.T) {
		sess := fx.newSession(t, func(s *types.ResumeSession) {
			s.ResumeState.Stage = types.StageCompleted
			s.Questionnaire.Questions = []types.QuestionItem{question("q1", "Go", "skill")}
		})
		_, err := fx.svc.AnswerQuestions(fx.ctx, fx.userID(), sess.ID, []Answer{{QuestionID: "q1", Answer: "x"}})
		var pe *PreconditionError
		assert.True(t, errors.As(err, &pe))
	})
}

func TestAnswerQuestions_BoundedConcurrency(t *testing.T) {
	fx := newFixture(t, WithBatchConcurrency(2))
	var inFlight, peak int32
	fx.llm.on(OpAnswer, func(llm.Request) (string, error) {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return `{"knowledge_graph_updates": {"category": "misc", "data": {"note": "x"}}, "confidence": 0.5}`, nil
	})

	var questions []types.QuestionItem
	var answers []Answer
	for i := 0; i < 6; i++ {
		id := fmt.Sprintf("q%d", i)
		questions = append(questions, question(id, "Field"+id, "skill"))
		answers = append(answers, Answer{QuestionID: id, Answer: "yes"})
	}
	sess := sessionWithQuestions(fx, t, questions...)

	res, err := fx.svc.AnswerQuestions(fx.ctx, fx.userID(), sess.ID, answers)
	require.NoError(t, err)
	assert.Equal(t, 6, res.AnsweredCount)
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
	assert.Len(t, fx.llm.callsFor(OpAnswer), 6)
}

func TestCompletion(t *testing.T) {
	tests := []struct {
		answered, total int
		want            float64
	}{
		{0, 0, 0},
		{0, 4, 0},
		{1, 4, 25},
		{1, 3, 100.0 / 3},
		{4, 4, 100},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Completion(tt.answered, tt.total), "%d/%d", tt.answered, tt.total)
	}
}

// failingWrites is a memory store whose session or graph writes can be made to fail
type failingWrites struct {
	*db.Memory
	sessionErr error
	graphErr   error
}

func (f *failingWrites) SaveSession(ctx context.Context, sess *types.ResumeSession) error {
	if f.sessionErr != nil {
		return f.sessionErr
	}
	return f.Memory.SaveSession(ctx, sess)
}

func (f *failingWrites) SaveKnowledgeGraph(ctx context.Context, userID string, kg *types.KnowledgeGraph, rev int64) (int64, error) {
	if f.graphErr != nil {
		return 0, f.graphErr
	}
	return f.Memory.SaveKnowledgeGraph(ctx, userID, kg, rev)
}

const acmeExperienceReply = `{"knowledge_graph_updates": {"category": "work_experience", "data": {"company": "Acme", "position": "Engineer"}}, "confidence": 0.9, "summary": "Acme job"}`

func TestAnswerQuestions_NonFiniteConfidenceUsesDefault(t *testing.T) {
	fx := newFixture(t)
	fx.llm.reply(OpAnswer, `{"knowledge_graph_updates": {"category": "skills", "data": ["Go"]}, "confidence": "NaN", "summary": "Go"}`)
	sess := sessionWithQuestions(fx, t, question("q1", "Go", "skill"))

	res, err := fx.svc.AnswerQuestions(fx.ctx, fx.userID(), sess.ID, []Answer{{QuestionID: "q1", Answer: "Daily for years"}})
	require.NoError(t, err)
	require.Len(t, res.Results, 1)
	assert.InDelta(t, defaultAnswerConfidence, res.Results[0].Confidence, 0.0001)

	stored := fx.session(t, sess.ID)
	q := stored.Questionnaire.Questions[0]
	assert.Equal(t, types.QuestionAnswered, q.Status)
	require.NotNil(t, q.Confidence)
	assert.InDelta(t, defaultAnswerConfidence, *q.Confidence, 0.0001)

	kg, _ := fx.graph(t)
	assert.Equal(t, []string{"Go"}, kg.Skills)
}

func TestAnswerQuestions_FailedSessionWriteLeavesGraphUntouched(t *testing.T) {
	fx := newFixture(t)
	fx.llm.reply(OpAnswer, acmeExperienceReply)
	sess := sessionWithQuestions(fx, t, question("q1", "Acme", "experience"))
	_, revBefore := fx.graph(t)

	store := &failingWrites{Memory: fx.store, sessionErr: errors.New("disk full")}
	svc := New(store, fx.llm, WithClock(func() time.Time { return testNow }))
	answers := []Answer{{QuestionID: "q1", Answer: "Engineer at Acme"}}

	_, err := svc.AnswerQuestions(fx.ctx, fx.userID(), sess.ID, answers)
	require.Error(t, err)

	kg, rev := fx.graph(t)
	assert.Empty(t, kg.WorkExperience)
	assert.Equal(t, revBefore, rev)

	_, err = fx.svc.AnswerQuestions(fx.ctx, fx.userID(), sess.ID, answers)
	require.NoError(t, err)
	kg, _ = fx.graph(t)
	assert.Len(t, kg.WorkExperience, 1, "a retry merges the record once")
}

func TestAnswerQuestions_FailedGraphWriteRestoresSession(t *testing.T) {
	fx := newFixture(t)
	fx.llm.reply(OpAnswer, acmeExperienceReply)
	sess := sessionWithQuestions(fx, t, question("q1", "Acme", "experience"))

	store := &failingWrites{Memory: fx.store, graphErr: db.ErrRevisionMismatch}
	svc := New(store, fx.llm, WithClock(func() time.Time { return testNow }))
	answers := []Answer{{QuestionID: "q1", Answer: "Engineer at Acme"}}

	_, err := svc.AnswerQuestions(fx.ctx, fx.userID(), sess.ID, answers)
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)

	stored := fx.session(t, sess.ID)
	q := stored.Questionnaire.Questions[0]
	assert.Equal(t, types.QuestionUnanswered, q.Status)
	assert.Nil(t, q.Answer)
	assert.Zero(t, stored.Questionnaire.Completion)
	assert.Equal(t, types.StageQuestionnairePending, stored.ResumeState.Stage)

	res, err := fx.svc.AnswerQuestions(fx.ctx, fx.userID(), sess.ID, answers)
	require.NoError(t, err)
	assert.True(t, res.AllAnswered)
	kg, _ := fx.graph(t)
	assert.Len(t, kg.WorkExperience, 1)
}
