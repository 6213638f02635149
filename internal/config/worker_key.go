package config

type WorkerKeyStruct struct {
	PersistAnswersQueue    string
	PersistProctoringQueue string
	FinalizeAttemptsQueue  string
}

var WorkerKey = &WorkerKeyStruct{
	PersistAnswersQueue:    "persist_answers_queue",
	PersistProctoringQueue: "persist_proctoring_queue",
	FinalizeAttemptsQueue:  "finalize_attempts_queue",
}
