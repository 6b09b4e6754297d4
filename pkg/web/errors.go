package web

import (
	"errors"

	"github.com/dukex/flowpatch/pkg/flowerrors"
	"github.com/dukex/flowpatch/pkg/models"
	"github.com/dukex/flowpatch/pkg/persistence"
	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"
)

// reportProblem is a problem document that carries what the failed operation already did.
type reportProblem struct {
	*problems.DefaultProblem

	Holder  string          `json:"holder,omitempty"`
	Element *models.Element `json:"element,omitempty"`
	Report  *models.Report  `json:"report,omitempty"`
}

func badRequest(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(400).
		WithInstance(c.Path()).
		WithType(flowerrors.KindValidation).
		WithDetail(detail)

	return c.Status(fiber.StatusBadRequest).JSON(problem)
}

// handleServiceError maps engine errors to problem documents.
func handleServiceError(c fiber.Ctx, err error) error {
	return writeProblem(c, err, nil, nil)
}

func writeProblem(c fiber.Ctx, err error, element *models.Element, report *models.Report) error {
	status, kind := classify(err)

	body := reportProblem{
		DefaultProblem: problems.NewStatusProblem(status).
			WithInstance(c.Path()).
			WithType(kind).
			WithDetail(err.Error()),
		Element: element,
		Report:  report,
	}

	var conflict *flowerrors.LockConflictError
	if errors.As(err, &conflict) {
		body.Holder = conflict.Holder
	}

	return c.Status(status).JSON(body)
}

func classify(err error) (int, string) {
	if persistence.IsReportNotFound(err) || persistence.IsSessionNotFound(err) {
		return fiber.StatusNotFound, flowerrors.KindNotFound
	}

	kind := flowerrors.Kind(err)

	switch kind {
	case flowerrors.KindValidation:
		return fiber.StatusBadRequest, kind
	case flowerrors.KindLockConflict, flowerrors.KindSessionClosed:
		return fiber.StatusConflict, kind
	case flowerrors.KindPartialWrite, flowerrors.KindRemote:
		return fiber.StatusBadGateway, kind
	case flowerrors.KindPermissionDenied:
		return fiber.StatusForbidden, kind
	case flowerrors.KindNotFound:
		return fiber.StatusNotFound, kind
	default:
		return fiber.StatusInternalServerError, kind
	}
}
