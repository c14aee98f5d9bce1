package operation

import "photorestore/internal/api/v1/dto"

// Restoration Operations

type CreateRestorationInput struct {
	Body dto.RestoreRequestDTO `json:"body"`
}

type CreateRestorationOutput struct {
	// 200 when finished inline, 202 when the worker finishes it
	Status int
	Body   dto.RestoreResponseDTO `json:"body"`
}

type ListRestorationsInput struct {
	Limit  int `query:"limit" default:"20" minimum:"1" maximum:"100" doc:"Number of restorations"`
	Offset int `query:"offset" default:"0" minimum:"0" doc:"Offset for pagination"`
}

type ListRestorationsOutput struct {
	Body []dto.RestorationDTO `json:"body"`
}

type GetRestorationInput struct {
	RestorationID string `path:"restorationId" doc:"Restoration ID"`
}

type GetRestorationOutput struct {
	Body dto.RestorationDTO `json:"body"`
}

type DownloadRestorationInput struct {
	RestorationID string `path:"restorationId" doc:"Restoration ID"`
}

type DownloadRestorationOutput struct {
	Body dto.DownloadResponseDTO `json:"body"`
}

type GetPredictionInput struct {
	PredictionID string `path:"predictionId" doc:"Provider prediction ID"`
}

type GetPredictionOutput struct {
	Body dto.PredictionDTO `json:"body"`
}
