package controller

import (
	"context"
	"crypto/sha256"
	"fmt"
	"strings"

	"go.miloapis.com/email-provider-resend/internal/util"
	"go.miloapis.com/email-provider-resend/pkg/resend"
	notificationmiloapiscomv1alpha1 "go.miloapis.com/milo/pkg/apis/notification/v1alpha1"

	"k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/meta"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/finalizer"
	logf "sigs.k8s.io/controller-runtime/pkg/log"
)

const (
	resendContactFinalizerKey = "notification.miloapis.com/resend-contact"
)

// resendProviderName is the provider entry name used in Milo resource specs
// and statuses to reference Resend.
const resendProviderName = "Resend"

const (
	// ResendContactReadyCondition is a condition that is set to true when the Resend contact is ready
	ResendContactReadyCondition = "ResendContactReady"
	// ResendContactNotCreatedReason is a reason that is set when the Resend contact is not created
	ResendContactNotCreatedReason = "ContactNotCreated"
	// ResendContactCreatedReason is a reason that is set when the Resend contact is created
	ResendContactCreatedReason = "ContactCreated"
	// ResendContactUpdatedReason is a reason that is set when the Resend contact is updated
	ResendContactUpdatedReason = "ContactUpdated"
	// ResendContactNotUpdatedReason is a reason that is set when the Resend contact is not updated
	ResendContactNotUpdatedReason = "ContactNotUpdated"
)

const (
	// NewsLetterAddedCondition is a condition that is set to true when the contact is added to the newsletter group
	NewsLetterAddedCondition = "NewsLetterAdded"
	// NewsLetterAddedReason is a reason that is set when the contact is added to the newsletter group
	NewsLetterAddedReason = "NewsLetterAdded"
	// NewsLetterNotAddedReason is a reason that is set when the contact is not added to the newsletter group
	NewsLetterNotAddedReason = "NewsLetterNotAdded"
)

// ResendContactController reconciles a Contact object against the Resend API.
// Contacts are created inside the configured default audience; the id Resend
// assigns is recorded in the contact status providers.
type ResendContactController struct {
	Client                          client.Client
	Finalizers                      finalizer.Finalizers
	Resend                          resend.API
	DefaultAudienceID               resend.AudienceID
	NewsLetterContactGroupName      string
	NewsLetterContactGroupNamespace string
}

// resendContactFinalizer is a finalizer for the Contact object
type resendContactFinalizer struct {
	Client            client.Client
	Resend            resend.API
	DefaultAudienceID resend.AudienceID
}

func (f *resendContactFinalizer) Finalize(ctx context.Context, obj client.Object) (finalizer.Result, error) {
	log := logf.FromContext(ctx).WithValues("finalizer", "ContactFinalizer", "trigger", obj.GetName())
	log.Info("Finalizing Contact")

	// Type assertion
	contact, ok := obj.(*notificationmiloapiscomv1alpha1.Contact)
	if !ok {
		log.Error(fmt.Errorf("object is not a Contact"), "Failed to finalize Contact")
		return finalizer.Result{}, fmt.Errorf("object is not a Contact")
	}

	// Delete Resend contact
	if err := f.deleteContact(ctx, contact); err != nil {
		log.Error(err, "Failed to delete Resend contact")
		return finalizer.Result{}, fmt.Errorf("failed to delete Resend contact: %w", err)
	}

	return finalizer.Result{}, nil
}

// +kubebuilder:rbac:groups=notification.miloapis.com,resources=contacts,verbs=get;list;watch
// +kubebuilder:rbac:groups=notification.miloapis.com,resources=contacts/status,verbs=get;update;patch
// +kubebuilder:rbac:groups=notification.miloapis.com,resources=contacts/finalizers,verbs=update
// +kubebuilder:rbac:groups=notification.miloapis.com,resources=contactgroupmemberships,verbs=get;list;watch;delete

// Reconcile is the main function that reconciles the Contact object.
func (r *ResendContactController) Reconcile(ctx context.Context, req ctrl.Request) (ctrl.Result, error) {
	log := logf.FromContext(ctx).WithValues("controller", "ContactController", "trigger", req.NamespacedName)
	log.Info("Starting reconciliation", "namespacedName", req.String(), "name", req.Name, "namespace", req.Namespace)

	// Get Contact
	contact := &notificationmiloapiscomv1alpha1.Contact{}
	err := r.Client.Get(ctx, req.NamespacedName, contact)
	if err != nil {
		if errors.IsNotFound(err) {
			log.Info("Contact not found. Probably deleted.")
			return ctrl.Result{}, nil
		}
		return ctrl.Result{}, fmt.Errorf("failed to get contact: %w", err)
	}

	// Run finalizers
	finalizeResult, err := r.Finalizers.Finalize(ctx, contact)
	if err != nil {
		log.Error(err, "Failed to run finalizers for Contact")
		return ctrl.Result{}, fmt.Errorf("failed to run finalizers for Contact: %w", err)
	}
	if finalizeResult.Updated {
		log.Info("finalizer updated the contact object, updating API server")
		if updateErr := r.Client.Update(ctx, contact); updateErr != nil {
			if errors.IsConflict(updateErr) {
				log.Info("Conflict updating Contact after finalizer update; requeuing")
				return ctrl.Result{Requeue: true}, nil
			}
			log.Error(updateErr, "Failed to update Contact after finalizer update")
			return ctrl.Result{}, updateErr
		}
		return ctrl.Result{}, nil
	}

	oldStatus := contact.Status.DeepCopy()
	original := contact.DeepCopy()
	readyCond := meta.FindStatusCondition(contact.Status.Conditions, ResendContactReadyCondition)

	switch {
	// First creation – condition not present yet
	case readyCond == nil || readyCond.Reason == ResendContactNotCreatedReason:
		log.Info("ResendContact creation")

		id, err := r.createContact(ctx, contact)
		if err != nil && !resend.IsInvalidRequest(err) {
			log.Error(err, "Failed to create Resend contact")
			return ctrl.Result{}, fmt.Errorf("failed to create Resend contact: %w", err)
		}

		if err != nil && resend.IsInvalidRequest(err) {
			log.Info("Resend rejected the contact payload")
			meta.SetStatusCondition(&contact.Status.Conditions, metav1.Condition{
				Type:               ResendContactReadyCondition,
				Status:             metav1.ConditionFalse,
				Reason:             ResendContactNotCreatedReason,
				Message:            fmt.Sprintf("Resend contact not created on email provider: %s", err.Error()),
				LastTransitionTime: metav1.Now(),
				ObservedGeneration: contact.GetGeneration(),
			})
		}

		if err == nil {
			log.Info("Resend contact created", "resendContactID", id)
			meta.SetStatusCondition(&contact.Status.Conditions, metav1.Condition{
				Type:               ResendContactReadyCondition,
				Status:             metav1.ConditionTrue,
				Reason:             ResendContactCreatedReason,
				Message:            "Resend contact created on email provider",
				LastTransitionTime: metav1.Now(),
				ObservedGeneration: contact.GetGeneration(),
			})
			contact.Status.Providers = []notificationmiloapiscomv1alpha1.ContactProviderStatus{
				{
					Name: resendProviderName,
					ID:   string(id),
				},
			}
		}

	// Update – generation changed since we last processed the object
	case readyCond.ObservedGeneration != contact.GetGeneration():
		log.Info("Contact updated")

		err := r.updateContact(ctx, contact)
		if err != nil {
			if resend.IsInvalidRequest(err) {
				log.Info("Failed to update contact on email provider", "error", err.Error())
				meta.SetStatusCondition(&contact.Status.Conditions, metav1.Condition{
					Type:               ResendContactReadyCondition,
					Status:             metav1.ConditionFalse,
					Reason:             ResendContactNotUpdatedReason,
					Message:            fmt.Sprintf("Resend contact not updated on email provider: %s", err.Error()),
					LastTransitionTime: metav1.Now(),
					ObservedGeneration: contact.GetGeneration(),
				})
			} else {
				log.Error(err, "Failed to update Resend contact")
				return ctrl.Result{}, fmt.Errorf("failed to update Resend contact: %w", err)
			}
		}

		if err == nil {
			log.Info("Resend contact updated")
			meta.SetStatusCondition(&contact.Status.Conditions, metav1.Condition{
				Type:               ResendContactReadyCondition,
				Status:             metav1.ConditionTrue,
				Reason:             ResendContactUpdatedReason,
				Message:            "Resend contact updated on email provider",
				LastTransitionTime: metav1.Now(),
				ObservedGeneration: contact.GetGeneration(),
			})
		}
	}

	errorAddingToNewsLetter := false
	if r.isNewsletterContact(contact) {
		errorAddingToNewsLetter = r.addToNewsLetterList(ctx, contact)
	}

	// Update contact status if it changed
	if err := util.PatchStatusIfChanged(ctx, util.StatusPatchParams{
		Client:     r.Client,
		Logger:     log,
		Object:     contact,
		Original:   original,
		OldStatus:  oldStatus,
		NewStatus:  &contact.Status,
		FieldOwner: "resendcontact-controller",
	}); err != nil {
		return ctrl.Result{}, err
	}

	if errorAddingToNewsLetter {
		log.Error(errors.NewInternalError(fmt.Errorf("failed to add contact to newsletter list")), "Failed to add contact to newsletter list")
		return ctrl.Result{}, fmt.Errorf("failed to add contact to newsletter list")
	}

	log.Info("Contact reconciled")

	return ctrl.Result{}, nil
}

// SetupWithManager sets up the controller with the Manager.
func (r *ResendContactController) SetupWithManager(mgr ctrl.Manager) error {
	// Register finalizer
	r.Finalizers = finalizer.NewFinalizers()
	if err := r.Finalizers.Register(resendContactFinalizerKey, &resendContactFinalizer{
		Client:            r.Client,
		Resend:            r.Resend,
		DefaultAudienceID: r.DefaultAudienceID,
	}); err != nil {
		return fmt.Errorf("failed to register resend contact finalizer: %w", err)
	}

	return ctrl.NewControllerManagedBy(mgr).
		For(&notificationmiloapiscomv1alpha1.Contact{}).
		Named("resendcontact").
		Complete(r)
}

// createContact creates the contact in the default audience and returns the
// id Resend assigned. A conflict means the contact already exists there; the
// existing id is then recovered by email.
func (r *ResendContactController) createContact(ctx context.Context, contact *notificationmiloapiscomv1alpha1.Contact) (resend.ContactID, error) {
	log := logf.FromContext(ctx).WithValues("controller", "ResendContactController", "trigger", contact.Name)
	log.Info("Creating Resend contact")

	data := resend.NewContactData(contact.Spec.Email).
		WithFirstName(contact.Spec.GivenName).
		WithLastName(contact.Spec.FamilyName).
		WithUnsubscribed(false)

	id, err := r.Resend.CreateContact(ctx, r.DefaultAudienceID, data)
	if resend.IsConflict(err) {
		log.Info("Resend contact already exists, recovering id by email")
		return findContactIDByEmail(ctx, r.Resend, r.DefaultAudienceID, contact.Spec.Email)
	}
	if err != nil {
		return "", fmt.Errorf("failed to create Resend contact: %w", err)
	}

	return id, nil
}

// updateContact pushes the current spec to Resend for an already-created contact.
func (r *ResendContactController) updateContact(ctx context.Context, contact *notificationmiloapiscomv1alpha1.Contact) error {
	log := logf.FromContext(ctx).WithValues("controller", "ResendContactController", "trigger", contact.Name)
	log.Info("Updating Resend contact")

	id, ok := resendProviderID(contact)
	if !ok {
		return fmt.Errorf("contact has no recorded Resend id")
	}

	changes := resend.NewContactChanges().
		WithEmail(contact.Spec.Email).
		WithFirstName(contact.Spec.GivenName).
		WithLastName(contact.Spec.FamilyName)

	if err := r.Resend.UpdateContact(ctx, id, r.DefaultAudienceID, changes); err != nil {
		return fmt.Errorf("failed to update Resend contact: %w", err)
	}

	return nil
}

// deleteContact removes the contact from the default audience. The recorded
// Resend id is preferred; when the contact never got one the email address is
// used instead, since the delete endpoint accepts either form.
func (f *resendContactFinalizer) deleteContact(ctx context.Context, contact *notificationmiloapiscomv1alpha1.Contact) error {
	log := logf.FromContext(ctx).WithValues("controller", "ResendContactController", "trigger", contact.Name)
	log.Info("Deleting Resend contact")

	emailOrID := contact.Spec.Email
	if id, ok := resendProviderID(contact); ok {
		emailOrID = string(id)
	}

	if err := f.Resend.DeleteContact(ctx, f.DefaultAudienceID, emailOrID); err != nil {
		if !resend.IsNotFound(err) {
			log.Error(err, "Failed to delete Resend contact")
			return fmt.Errorf("failed to delete Resend contact: %w", err)
		}
		log.Info("Resend contact not found, probably deleted already")
	}

	return nil
}

// resendProviderID returns the Resend contact id recorded in the contact status.
func resendProviderID(contact *notificationmiloapiscomv1alpha1.Contact) (resend.ContactID, bool) {
	for _, provider := range contact.Status.Providers {
		if provider.Name == resendProviderName && provider.ID != "" {
			return resend.ContactID(provider.ID), true
		}
	}
	return "", false
}

// findContactIDByEmail scans the audience for a contact with the given email.
func findContactIDByEmail(ctx context.Context, api resend.API, audience resend.AudienceID, email string) (resend.ContactID, error) {
	contacts, err := api.ListContacts(ctx, audience)
	if err != nil {
		return "", fmt.Errorf("failed to list Resend contacts: %w", err)
	}

	for _, contact := range contacts {
		if contact.Email == email {
			return contact.ID, nil
		}
	}

	return "", fmt.Errorf("no Resend contact found with email %s", email)
}

// isNewsletterContact returns true if the contact name starts with "newsletter-".
func (r *ResendContactController) isNewsletterContact(contact *notificationmiloapiscomv1alpha1.Contact) bool {
	return strings.HasPrefix(contact.Name, "newsletter-")
}

func (r *ResendContactController) addToNewsLetterList(ctx context.Context, contact *notificationmiloapiscomv1alpha1.Contact) bool {
	log := logf.FromContext(ctx).WithValues("controller", "ResendContactController", "trigger", contact.Name)
	log.Info("Adding newsletter membership for Resend contact")

	newsLetterCond := meta.FindStatusCondition(contact.Status.Conditions, NewsLetterAddedCondition)
	if newsLetterCond != nil && newsLetterCond.Status == metav1.ConditionTrue {
		log.Info("News letter already added")
		return false
	}

	contactgroupmembership := notificationmiloapiscomv1alpha1.ContactGroupMembership{
		ObjectMeta: metav1.ObjectMeta{
			Name:      r.generateCgmName(contact),
			Namespace: contact.Namespace,
		},
		Spec: notificationmiloapiscomv1alpha1.ContactGroupMembershipSpec{
			ContactRef: notificationmiloapiscomv1alpha1.ContactReference{
				Name:      contact.Name,
				Namespace: contact.Namespace,
			},
			ContactGroupRef: notificationmiloapiscomv1alpha1.ContactGroupReference{
				Name:      r.NewsLetterContactGroupName,
				Namespace: r.NewsLetterContactGroupNamespace,
			},
		},
	}

	if err := r.Client.Create(ctx, &contactgroupmembership); err != nil {
		if errors.IsAlreadyExists(err) {
			log.Info("ContactGroupMembership already exists")
			return false
		}
		log.Error(err, "Failed to create ContactGroupMembership")

		meta.SetStatusCondition(&contact.Status.Conditions, metav1.Condition{
			Type:               NewsLetterAddedCondition,
			Status:             metav1.ConditionFalse,
			Reason:             NewsLetterNotAddedReason,
			Message:            fmt.Sprintf("Contact not added to Newsletter list: %s", err.Error()),
			LastTransitionTime: metav1.Now(),
			ObservedGeneration: contact.GetGeneration(),
		})

		return true
	}

	meta.SetStatusCondition(&contact.Status.Conditions, metav1.Condition{
		Type:               NewsLetterAddedCondition,
		Status:             metav1.ConditionTrue,
		Reason:             NewsLetterAddedReason,
		Message:            "Contact added to Newsletter list on email provider.",
		LastTransitionTime: metav1.Now(),
		ObservedGeneration: contact.GetGeneration(),
	})

	log.Info("ContactGroupMembership created")
	return false
}

// generateCgmName generates a deterministic name for a ContactGroupMembership
func (r *ResendContactController) generateCgmName(
	contact *notificationmiloapiscomv1alpha1.Contact,
) string {
	// Create a full hash for uniqueness
	hash := sha256.Sum256([]byte(string(contact.UID)))
	hashStr := fmt.Sprintf("%x", hash)

	return fmt.Sprintf("%s-%s", contact.Name, hashStr)
}
