package scripts

import (
	"strings"

	"roost/internal/models"
)

// The library is the operator's shelf of reusable scripts. Publishing
// from the library stamps out a ScriptVersion without retyping code.

type LibraryInput struct {
	Name             string
	ScriptType       string
	Version          string
	Code             string
	TargetDeviceType string
	Description      string
}

func (s *Service) CreateLibraryScript(in LibraryInput) (models.LibraryScript, error) {
	if strings.TrimSpace(in.Code) == "" {
		return models.LibraryScript{}, ErrInvalidScript
	}
	if in.Name == "" {
		return models.LibraryScript{}, ErrInvalidTarget
	}
	if existing, err := s.store.FindLibraryByName(in.Name); err != nil {
		return models.LibraryScript{}, err
	} else if existing != nil {
		return models.LibraryScript{}, ErrNameTaken
	}
	if in.Version == "" {
		in.Version = "1.0.0"
	}
	if in.ScriptType == "" {
		in.ScriptType = "arduino"
	}
	if _, ok := scriptTypes[in.ScriptType]; !ok {
		return models.LibraryScript{}, ErrUnknownScriptType
	}

	l := models.LibraryScript{
		Name:             in.Name,
		ScriptType:       in.ScriptType,
		Version:          in.Version,
		Code:             in.Code,
		TargetDeviceType: in.TargetDeviceType,
		Description:      in.Description,
	}
	if err := s.store.CreateLibrary(&l); err != nil {
		return models.LibraryScript{}, err
	}
	return l, nil
}

func (s *Service) GetLibraryScript(id uint) (models.LibraryScript, error) {
	l, err := s.store.FindLibraryByID(id)
	if err != nil {
		return models.LibraryScript{}, err
	}
	if l == nil {
		return models.LibraryScript{}, ErrNotFound
	}
	return *l, nil
}

func (s *Service) ListLibrary() ([]models.LibraryScript, error) {
	return s.store.ListLibrary()
}

// LibraryPatch — поля опциональны, nil не трогает значение.
type LibraryPatch struct {
	Name             *string
	ScriptType       *string
	Version          *string
	Code             *string
	TargetDeviceType *string
	Description      *string
}

func (s *Service) UpdateLibraryScript(id uint, patch LibraryPatch) (models.LibraryScript, error) {
	l, err := s.store.FindLibraryByID(id)
	if err != nil {
		return models.LibraryScript{}, err
	}
	if l == nil {
		return models.LibraryScript{}, ErrNotFound
	}
	if patch.Name != nil && *patch.Name != l.Name {
		if other, err := s.store.FindLibraryByName(*patch.Name); err != nil {
			return models.LibraryScript{}, err
		} else if other != nil && other.ID != l.ID {
			return models.LibraryScript{}, ErrNameTaken
		}
		l.Name = *patch.Name
	}
	if patch.ScriptType != nil {
		if _, ok := scriptTypes[*patch.ScriptType]; !ok {
			return models.LibraryScript{}, ErrUnknownScriptType
		}
		l.ScriptType = *patch.ScriptType
	}
	if patch.Version != nil {
		l.Version = *patch.Version
	}
	if patch.Code != nil {
		if strings.TrimSpace(*patch.Code) == "" {
			return models.LibraryScript{}, ErrInvalidScript
		}
		l.Code = *patch.Code
	}
	if patch.TargetDeviceType != nil {
		l.TargetDeviceType = *patch.TargetDeviceType
	}
	if patch.Description != nil {
		l.Description = *patch.Description
	}
	if err := s.store.SaveLibrary(l); err != nil {
		return models.LibraryScript{}, err
	}
	return *l, nil
}

func (s *Service) DeleteLibraryScript(id uint) error {
	return s.store.DeleteLibrary(id)
}

// PublishFromLibrary rolls a library script out to a device or a device
// type. The library row keeps its version; the rollout inherits it.
func (s *Service) PublishFromLibrary(id uint, scope, target string) (models.ScriptVersion, error) {
	l, err := s.store.FindLibraryByID(id)
	if err != nil {
		return models.ScriptVersion{}, err
	}
	if l == nil {
		return models.ScriptVersion{}, ErrNotFound
	}
	return s.Publish(PublishInput{
		Scope:      scope,
		Target:     target,
		Version:    l.Version,
		ScriptType: l.ScriptType,
		Code:       l.Code,
	})
}
